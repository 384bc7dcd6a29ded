// Package gattdb defines the CapSense GATT database: a GAP and a GATT
// service followed by the CapSense service with button and slider
// characteristics, each carrying a client characteristic configuration
// descriptor.
package gattdb

import (
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/blecap/internal/attr"
)

// Attribute handles.
const (
	HandleGAPService      uint16 = 0x0001
	HandleDeviceNameDecl  uint16 = 0x0002
	HandleDeviceName      uint16 = 0x0003
	HandleAppearanceDecl  uint16 = 0x0004
	HandleAppearance      uint16 = 0x0005
	HandleGATTService     uint16 = 0x0006
	HandleCapSenseService uint16 = 0x0007
	HandleButtonDecl      uint16 = 0x0008
	HandleButtonValue     uint16 = 0x0009
	HandleButtonCCCD      uint16 = 0x000A
	HandleSliderDecl      uint16 = 0x000B
	HandleSliderValue     uint16 = 0x000C
	HandleSliderCCCD      uint16 = 0x000D
)

// Value layouts.
const (
	ButtonValueLen    = 2
	ButtonCountIndex  = 0
	ButtonStatusIndex = 1
	SliderValueLen    = 1
	CCCDLen           = 2
	MaxDeviceNameLen  = 32

	// CCCDNotify is bit 0 of the first CCCD byte.
	CCCDNotify byte = 0x01
)

var (
	CapSenseServiceUUID = ble.MustParse("0003CAB5-0000-1000-8000-00805F9B0131")
	ButtonCharUUID      = ble.MustParse("0003CAA2-0000-1000-8000-00805F9B0131")
	SliderCharUUID      = ble.MustParse("0003CAA1-0000-1000-8000-00805F9B0131")

	deviceNameUUID = ble.UUID16(0x2a00)
	appearanceUUID = ble.UUID16(0x2a01)
	gapUUID        = ble.UUID16(0x1800)
	gattUUID       = ble.UUID16(0x1801)
)

// Name returns a readable name for the attribute types used here, falling
// back to the Bluetooth SIG names known to ble.
func Name(u ble.UUID) string {
	switch {
	case u.Equal(CapSenseServiceUUID):
		return "CapSense"
	case u.Equal(ButtonCharUUID):
		return "CapSense Button"
	case u.Equal(SliderCharUUID):
		return "CapSense Slider"
	default:
		return ble.Name(u)
	}
}

// Characteristic ties a notifiable value to its configuration descriptor.
type Characteristic struct {
	Name  string
	Value uint16
	CCCD  uint16
}

var (
	Button = Characteristic{Name: "button", Value: HandleButtonValue, CCCD: HandleButtonCCCD}
	Slider = Characteristic{Name: "slider", Value: HandleSliderValue, CCCD: HandleSliderCCCD}
)

// Notifiable lists the characteristics in notification order.
func Notifiable() []Characteristic {
	return []Characteristic{Button, Slider}
}

// IsCCCD reports whether h is one of the configuration descriptors.
func IsCCCD(h uint16) bool {
	return h == HandleButtonCCCD || h == HandleSliderCCCD
}

// CharacteristicByCCCD resolves a descriptor handle to its characteristic.
func CharacteristicByCCCD(h uint16) (Characteristic, bool) {
	for _, c := range Notifiable() {
		if c.CCCD == h {
			return c, true
		}
	}
	return Characteristic{}, false
}

// New builds the attribute store with the given advertised device name.
func New(deviceName string) (*attr.Store, error) {
	if len(deviceName) > MaxDeviceNameLen {
		return nil, fmt.Errorf("device name %q longer than %d bytes", deviceName, MaxDeviceNameLen)
	}

	return attr.New(
		service(HandleGAPService, gapUUID),
		declaration(HandleDeviceNameDecl, ble.CharRead, HandleDeviceName, deviceNameUUID),
		attr.Spec{Handle: HandleDeviceName, Type: deviceNameUUID, MaxLen: MaxDeviceNameLen, Perm: attr.PermRead, Value: []byte(deviceName)},
		declaration(HandleAppearanceDecl, ble.CharRead, HandleAppearance, appearanceUUID),
		attr.Spec{Handle: HandleAppearance, Type: appearanceUUID, MaxLen: 2, Perm: attr.PermRead, Value: []byte{0x00, 0x00}},

		service(HandleGATTService, gattUUID),

		service(HandleCapSenseService, CapSenseServiceUUID),
		declaration(HandleButtonDecl, ble.CharRead|ble.CharNotify, HandleButtonValue, ButtonCharUUID),
		attr.Spec{Handle: HandleButtonValue, Type: ButtonCharUUID, MaxLen: ButtonValueLen, Perm: attr.PermRead | attr.PermWrite, Value: make([]byte, ButtonValueLen)},
		cccd(HandleButtonCCCD),
		declaration(HandleSliderDecl, ble.CharRead|ble.CharNotify, HandleSliderValue, SliderCharUUID),
		attr.Spec{Handle: HandleSliderValue, Type: SliderCharUUID, MaxLen: SliderValueLen, Perm: attr.PermRead | attr.PermWrite, Value: make([]byte, SliderValueLen)},
		cccd(HandleSliderCCCD),
	)
}

func service(h uint16, u ble.UUID) attr.Spec {
	return attr.Spec{Handle: h, Type: ble.PrimaryServiceUUID, MaxLen: uint16(len(u)), Perm: attr.PermRead, Value: []byte(u)}
}

// declaration encodes properties, value handle and UUID, all little-endian.
func declaration(h uint16, props ble.Property, valueHandle uint16, u ble.UUID) attr.Spec {
	v := make([]byte, 0, 3+len(u))
	v = append(v, byte(props), byte(valueHandle), byte(valueHandle>>8))
	v = append(v, u...)
	return attr.Spec{Handle: h, Type: ble.CharacteristicUUID, MaxLen: uint16(len(v)), Perm: attr.PermRead, Value: v}
}

func cccd(h uint16) attr.Spec {
	return attr.Spec{Handle: h, Type: ble.ClientCharacteristicConfigUUID, MaxLen: CCCDLen, Perm: attr.PermRead | attr.PermWrite, Value: []byte{0x00, 0x00}}
}
