package ble

import "tinygo.org/x/bluetooth"

// newAdapter returns the BlueZ adapter with the given name, e.g. "hci1".
func newAdapter(name string) *bluetooth.Adapter {
	if name == "" || name == "hci0" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(name)
}
