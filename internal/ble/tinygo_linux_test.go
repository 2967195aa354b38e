package ble

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestNewAdapter(t *testing.T) {
	if newAdapter("") != bluetooth.DefaultAdapter || newAdapter("hci0") != bluetooth.DefaultAdapter {
		t.Error("hci0 should map to the default adapter")
	}
	if newAdapter("hci1") == bluetooth.DefaultAdapter {
		t.Error("hci1 should not share the default adapter")
	}
}

func TestNewTinyGoRadioUsesNamedAdapter(t *testing.T) {
	r := NewTinyGoRadio("hci1", nil)
	if r.adapter == bluetooth.DefaultAdapter {
		t.Error("radio built for hci1 uses the default adapter")
	}
}
