//go:build !linux

package ble

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// newAdapter returns the default adapter; only Linux can select another.
func newAdapter(name string) *bluetooth.Adapter {
	if name != "" && name != "hci0" {
		slog.Warn("[BLE] adapter selection is Linux only, using the default adapter", "adapter", name)
	}
	return bluetooth.DefaultAdapter
}
