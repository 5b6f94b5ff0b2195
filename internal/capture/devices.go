package capture

import (
	"fmt"

	"firestige.xyz/pktstream/internal/core"
)

// Device describes one capturable interface.
type Device struct {
	Name        string
	Description string
	Addresses   []string
}

// ListDevices enumerates the interfaces libpcap can open.
func ListDevices() ([]Device, error) {
	devs, err := findAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", core.ErrOpen, err)
	}
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		dev := Device{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			dev.Addresses = append(dev.Addresses, a.IP.String())
		}
		out = append(out, dev)
	}
	return out, nil
}
