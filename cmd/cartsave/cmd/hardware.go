package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipdb"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipid"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/gba"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/nds"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/transfer"
)

// hardware is one opened bridge. Slot 1 goes through the serial memory bus,
// slot 2 through the ROM and save capabilities.
type hardware struct {
	bus   *spibus.Bus
	rom   gba.ROMReader
	save  gba.SaveBus
	db    *chipdb.DB
	log   cart.Logger
	close func() error
}

// identifier is satisfied by both slot identifiers.
type identifier interface {
	Identify(ctx context.Context, session *cart.SessionContext) (cart.Profile, error)
}

var simChips = map[string]func() spibus.SimChip{
	"none":        func() spibus.SimChip { return nil },
	"eeprom-512":  func() spibus.SimChip { return spibus.NewSimEEPROM(512, 1, 16, 2) },
	"eeprom-8k":   func() spibus.SimChip { return spibus.NewSimEEPROM(8*1024, 2, 32, 2) },
	"eeprom-64k":  func() spibus.SimChip { return spibus.NewSimEEPROM(64*1024, 2, 128, 2) },
	"eeprom-128k": func() spibus.SimChip { return spibus.NewSimEEPROM(128*1024, 3, 256, 2) },
	"fram-8k":     func() spibus.SimChip { return spibus.NewSimFRAM(8 * 1024) },
	"fram-32k":    func() spibus.SimChip { return spibus.NewSimFRAM(32 * 1024) },
	"flash-256k":  func() spibus.SimChip { return spibus.NewSimFlash(256*1024, 0x204012) },
	"flash-512k":  func() spibus.SimChip { return spibus.NewSimFlash(512*1024, 0x204013) },
	"flash-1m":    func() spibus.SimChip { return spibus.NewSimFlash(1024*1024, 0x204014) },
	"infrared":    func() spibus.SimChip { return auxSim(cart.SpecialInfrared) },
	"motion":      func() spibus.SimChip { return auxSim(cart.SpecialMotion) },
	"wireless":    func() spibus.SimChip { return auxSim(cart.SpecialWireless) },
}

// simMarkers are linked into generated slot-2 images.
var simMarkers = map[cart.Technology]map[int]string{
	cart.TechSerialEEPROM: {gba.EEPROMSmall: "EEPROM_V124", gba.EEPROMLarge: "EEPROM_V124"},
	cart.TechBatterySRAM:  {gba.SRAMSize: "SRAM_V113"},
	cart.TechNORFlash:     {gba.FlashSmall: "FLASH512_V131", gba.FlashLarge: "FLASH1M_V103"},
}

func simChipNames() string {
	names := make([]string, 0, len(simChips))
	for n := range simChips {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func auxSim(s cart.Special) spibus.SimChip {
	for _, p := range chipid.DefaultAuxQueries {
		if p.Special == s {
			return &spibus.SimPeripheral{Query: p.Command, Reply: p.Expect}
		}
	}
	return nil
}

func openHardware() (*hardware, error) {
	db, err := chipdb.Load(chipDBPath)
	if err != nil {
		return nil, err
	}
	hw := &hardware{db: db, log: newLogger()}

	switch bridgeType {
	case "simulator", "sim":
		link := spibus.NewSimLink(spibus.TransportInfo{
			Name:     "Cartridge Simulator",
			Vendor:   "cartsave",
			Model:    "Sim-1.0",
			Firmware: "v0.3.0",
		})
		mk, ok := simChips[strings.ToLower(simChip)]
		if !ok {
			return nil, fmt.Errorf("unknown --sim-chip %q (want one of %s)", simChip, simChipNames())
		}
		if chip := mk(); chip != nil {
			link.Insert(cart.Slot1, chip)
		}
		if simCard != "" {
			h := nds.Header{Title: "SIMULATED", GameCode: strings.ToUpper(simCard), Maker: "01"}
			link.SetCardHeader(h.Encode())
		}
		cartridge, err := newSimCartridge()
		if err != nil {
			return nil, err
		}
		hw.bus = spibus.NewBus(link)
		hw.rom, hw.save = cartridge, cartridge
		hw.close = link.Close

	case "usb":
		bridge, err := spibus.OpenUSBBridge(spibus.VendorIDRaspberryPi, spibus.ProductIDCartBridge)
		if err != nil {
			return nil, fmt.Errorf("open USB bridge: %w", err)
		}
		hw.fromBridge(bridge)

	case "serial":
		if portName == "" {
			return nil, fmt.Errorf("--port is required with --bridge serial")
		}
		bridge, err := spibus.OpenSerialBridge(portName, baudRate)
		if err != nil {
			return nil, fmt.Errorf("open serial bridge: %w", err)
		}
		hw.fromBridge(bridge)

	default:
		return nil, fmt.Errorf("unknown bridge type: %s (supported: simulator, usb, serial)", bridgeType)
	}

	if verbose {
		if info, err := hw.bus.Info(); err == nil {
			fmt.Printf("Connected to: %s %s (firmware %s)\n", info.Vendor, info.Model, info.Firmware)
		}
	}
	return hw, nil
}

func (hw *hardware) fromBridge(b *spibus.Bridge) {
	hw.bus = spibus.NewBus(b)
	hw.rom, hw.save = b, b
	hw.close = b.Close
}

func newSimCartridge() (*gba.SimCartridge, error) {
	if simExpansion != 0 {
		c := gba.NewSimCartridge(nil, cart.TechBatterySRAM, gba.SRAMSize)
		c.ExpansionID = simExpansion
		return c, nil
	}

	save, ok := chipdb.SaveType(simSave)
	if !ok {
		return nil, fmt.Errorf("unknown --sim-save %q (want one of %s)",
			simSave, strings.Join(chipdb.SaveTypeNames(), ", "))
	}

	var rom []byte
	if simROM != "" {
		data, err := os.ReadFile(simROM)
		if err != nil {
			return nil, fmt.Errorf("read --sim-rom: %w", err)
		}
		rom = data
	} else if save.Technology != cart.TechUnknown {
		h := gba.Header{Title: "SIMULATED", GameCode: strings.ToUpper(simGame), Maker: "01"}
		rom = gba.BuildROM(h, 1024*1024, simMarkers[save.Technology][save.Capacity])
	}
	return gba.NewSimCartridge(rom, save.Technology, save.Capacity), nil
}

func (hw *hardware) Close() error {
	if hw.close == nil {
		return nil
	}
	return hw.close()
}

func parseSlot() (cart.Slot, error) {
	return cart.ParseSlot(slotFlag)
}

// identify runs the identifier for the selected slot and returns the session
// holding its profile.
func (hw *hardware) identify(ctx context.Context) (*cart.SessionContext, cart.Profile, error) {
	slot, err := parseSlot()
	if err != nil {
		return nil, cart.Profile{}, err
	}
	session := cart.NewSession(slot)

	var id identifier
	switch slot {
	case cart.Slot1:
		id = chipid.New(hw.bus, chipid.WithChipDB(hw.db), chipid.WithLogger(hw.log),
			chipid.WithHeaderTimeout(romTimeout))
	default:
		id = gba.New(hw.rom, gba.WithChipDB(hw.db), gba.WithLogger(hw.log),
			gba.WithROMTimeout(romTimeout))
	}
	p, err := id.Identify(ctx, session)
	if err != nil {
		return nil, cart.Profile{}, fmt.Errorf("identify %s: %w", slot, err)
	}
	return session, p, nil
}

// executor returns the transfer executor matching the profile's slot.
func (hw *hardware) executor(p cart.Profile) (transfer.Executor, error) {
	if p.Slot == cart.Slot2 {
		x, err := gba.NewExecutor(hw.save, p)
		if err != nil {
			return nil, err
		}
		return x, nil
	}
	return transfer.NewBusExecutor(hw.bus), nil
}

// cardHeader is the part of either slot's header that is printed and
// stored with backups.
type cardHeader struct {
	Title    string
	GameCode string
}

// header reads the header of the identified cartridge. A slot without a
// readable header yields a zero header; only bus failures are errors.
func (hw *hardware) header(p cart.Profile) (cardHeader, error) {
	if p.Slot == cart.Slot2 {
		h, err := gba.ReadHeader(hw.rom, romTimeout)
		if errors.Is(err, gba.ErrBadHeader) {
			hw.log.Debug("no slot-2 header", "error", err)
			return cardHeader{}, nil
		}
		if err != nil {
			return cardHeader{}, fmt.Errorf("read slot-2 header: %w", err)
		}
		return cardHeader{Title: h.Title, GameCode: h.GameCode}, nil
	}

	raw, err := hw.bus.CardHeader(nds.HeaderSize, romTimeout)
	if errors.Is(err, spibus.ErrNotImplemented) {
		return cardHeader{}, nil
	}
	if err != nil {
		return cardHeader{}, fmt.Errorf("read slot-1 header: %w", err)
	}
	h, err := nds.ParseHeader(raw)
	if err != nil {
		hw.log.Debug("no slot-1 header", "error", err)
		return cardHeader{}, nil
	}
	return cardHeader{Title: h.Title, GameCode: h.GameCode}, nil
}
