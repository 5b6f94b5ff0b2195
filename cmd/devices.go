package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/pktstream/internal/capture"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the network interfaces libpcap can open, with their addresses.

Use one of the names as capture.interface (or CAPTURE_IFACE).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevices(cmd.OutOrStdout(), capture.ListDevices)
	},
}

func runDevices(out io.Writer, list func() ([]capture.Device, error)) error {
	devs, err := list()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Fprintln(out, "No capture devices found (insufficient privileges?)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESSES\tDESCRIPTION")
	for _, d := range devs {
		addrs := strings.Join(d.Addresses, ",")
		if addrs == "" {
			addrs = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, addrs, d.Description)
	}
	return w.Flush()
}
