package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available cartridge bridges",
	Long: `Scan the host for USB cartridge bridges and serial ports a CDC bridge may sit
behind, and print a summary. The simulator is always listed.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := spibus.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No interfaces found.")
		return nil
	}

	fmt.Println("Detected cartridge bridges:")
	for _, iface := range infos {
		switch iface.Kind {
		case spibus.InterfaceKindUSB:
			fmt.Printf("  - %s [%s] (VID:PID %04X:%04X)\n", iface.Label(), iface.Kind, iface.VendorID, iface.ProductID)
		default:
			fmt.Printf("  - %s [%s]\n", iface.Label(), iface.Kind)
		}
	}

	return nil
}
