package ble

import (
	"testing"

	"github.com/google/uuid"
)

func TestServiceUUID(t *testing.T) {
	want := "f47b5e2d-4a9e-4c5a-9b3f-8e1d2c3a4b5c"
	if got := ServiceUUID.String(); got != want {
		t.Errorf("ServiceUUID = %s, want %s", got, want)
	}
}

func TestAdvertisementHasService(t *testing.T) {
	other := uuid.MustParse("19b10000-e8f2-537e-4f6c-d104768a1214")
	adv := Advertisement{ServiceUUIDs: []uuid.UUID{other, ServiceUUID}}
	if !adv.HasService(ServiceUUID) {
		t.Error("HasService(ServiceUUID) = false, want true")
	}
	if (Advertisement{ServiceUUIDs: []uuid.UUID{other}}).HasService(ServiceUUID) {
		t.Error("HasService on unrelated advertisement = true, want false")
	}
	if (Advertisement{}).HasService(ServiceUUID) {
		t.Error("HasService on empty advertisement = true, want false")
	}
}

func TestAdapterPath(t *testing.T) {
	if got := adapterPath("hci1"); got != "/org/bluez/hci1" {
		t.Errorf("adapterPath(hci1) = %s", got)
	}
	if got := adapterPath(""); got != "/org/bluez/hci0" {
		t.Errorf("adapterPath(\"\") = %s, want default hci0", got)
	}
}
