package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/gba"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose     bool
	bridgeType  string
	portName    string
	baudRate    uint
	slotFlag    string
	chipDBPath  string
	catalogPath string
	romTimeout  time.Duration

	// Simulator flags
	simChip      string
	simROM       string
	simSave      string
	simGame      string
	simCard      string
	simExpansion uint32
)

var rootCmd = &cobra.Command{
	Use:   "cartsave",
	Short: "Cartridge save backup and restore",
	Long: `Identify the save memory of a cartridge and back it up or restore it through a
USB or serial cartridge bridge.

Examples:
  cartsave interfaces                                   # List bridges
  cartsave identify --sim-chip eeprom-64k               # Identify a simulated chip
  cartsave backup --bridge usb --out game.sav           # Back up slot 1
  cartsave backup --slot 2 --bridge usb --store         # Back up slot 2 into the catalog
  cartsave restore --bridge serial --port /dev/ttyACM0 --in game.sav`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&bridgeType, "bridge", "b", "simulator",
		"cartridge bridge (simulator, usb, serial)")
	pf.StringVar(&portName, "port", "", "serial port of the bridge")
	pf.UintVar(&baudRate, "baud", 921600, "serial baud rate")
	pf.StringVarP(&slotFlag, "slot", "s", "1", "cartridge slot (1 or 2)")
	pf.StringVar(&chipDBPath, "chipdb", "", "chip database file overlaying the built-in tables")
	pf.StringVar(&catalogPath, "catalog", "", "backup catalog (default $CARTSAVE_CATALOG or ~/.cartsave/catalog.db)")
	pf.DurationVar(&romTimeout, "rom-timeout", gba.ROMTimeout, "timeout for each card header or program image read")

	pf.StringVar(&simChip, "sim-chip", "eeprom-64k",
		"simulator: slot-1 chip ("+simChipNames()+")")
	pf.StringVar(&simROM, "sim-rom", "", "simulator: slot-2 program image file")
	pf.StringVar(&simSave, "sim-save", "flash-128k", "simulator: slot-2 save type")
	pf.StringVar(&simGame, "sim-game", "BPEE", "simulator: slot-2 game code for the generated image")
	pf.Uint32Var(&simExpansion, "sim-expansion", 0, "simulator: slot-2 expansion pack NOR id (0x89168916 for a 512M 3in1)")
	pf.StringVar(&simCard, "sim-card", "ADAE", "simulator: slot-1 card game code (#### for a flash card, empty for no header)")
}
