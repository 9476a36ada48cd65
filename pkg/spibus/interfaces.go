package spibus

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/gousb"
)

// InterfaceKind categorizes bridge families.
type InterfaceKind string

const (
	InterfaceKindUSB    InterfaceKind = "usb"
	InterfaceKindSerial InterfaceKind = "serial"
	InterfaceKindSim    InterfaceKind = "simulator"
)

// InterfaceInfo describes a detected bridge.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Serial      string
	Path        string
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	if i.Description != "" {
		return i.Description
	}
	if i.Path != "" {
		return fmt.Sprintf("%s %s", i.Kind, i.Path)
	}
	return fmt.Sprintf("%s (%04X:%04X)", i.Kind, i.VendorID, i.ProductID)
}

type knownUSBDevice struct {
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownBridges = []knownUSBDevice{
	{VendorID: VendorIDRaspberryPi, ProductID: ProductIDCartBridge, Description: "Pico cartridge bridge"},
	{VendorID: 0x0483, ProductID: 0x5740, Description: "STM32 cartridge bridge"},
}

// serialGlobs lists device nodes a CDC bridge usually appears as.
var serialGlobs = []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/cu.usbmodem*"}

// DiscoverInterfaces enumerates USB bridges and candidate serial ports. It
// always returns the simulator entry so the tool works without hardware.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var results []InterfaceInfo
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		for _, known := range knownBridges {
			if uint16(desc.Vendor) == known.VendorID && uint16(desc.Product) == known.ProductID {
				results = append(results, InterfaceInfo{
					Kind:        InterfaceKindUSB,
					Description: known.Description,
					VendorID:    known.VendorID,
					ProductID:   known.ProductID,
					Path:        fmt.Sprintf("%d:%d", desc.Bus, desc.Address),
				})
			}
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return results, err
	}

	for _, pattern := range serialGlobs {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			results = append(results, InterfaceInfo{Kind: InterfaceKindSerial, Path: m})
		}
	}

	results = append(results, InterfaceInfo{
		Kind:        InterfaceKindSim,
		Description: "Simulator (no hardware)",
	})
	return results, nil
}
