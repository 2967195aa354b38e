package ble

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
)

// BlueZProbe reads adapter power from BlueZ over the system D-Bus.
type BlueZProbe struct {
	Adapter string // e.g. "hci0"
}

// Powered returns the Adapter1.Powered property. A missing adapter is an
// error, which callers treat the same as a disabled one.
func (p BlueZProbe) Powered() (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("ble: connect system bus: %w", err)
	}
	// The system bus connection is shared; do not close it.
	obj := conn.Object(bluezBus, adapterPath(p.Adapter))
	variant, err := obj.GetProperty(bluezAdapterIface + ".Powered")
	if err != nil {
		return false, fmt.Errorf("ble: read %s power: %w", p.Adapter, err)
	}
	powered, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("ble: Powered has unexpected type %T", variant.Value())
	}
	return powered, nil
}

// adapterPath converts an adapter name to its BlueZ object path.
// Example: "hci0" → "/org/bluez/hci0"
func adapterPath(adapter string) dbus.ObjectPath {
	if adapter == "" {
		adapter = "hci0"
	}
	return dbus.ObjectPath("/org/bluez/" + adapter)
}
