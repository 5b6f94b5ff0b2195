//go:build !linux

package capture

import "errors"

func openAFPacket(Config) (Handle, error) {
	return nil, errors.New("afpacket engine is only available on linux")
}
