package cmd

import (
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify the save memory of the inserted cartridge",
	Long: `Examine the selected slot and print the save memory profile: technology, capacity,
addressing and transfer geometry, with the title and game code from the
cartridge header when one can be read.`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	hw, err := openHardware()
	if err != nil {
		return err
	}
	defer hw.Close()

	ctx, stop := signalContext()
	defer stop()

	_, p, err := hw.identify(ctx)
	if err != nil {
		return err
	}
	h := cardHeader{}
	if p.Special != cart.SpecialFlashCard {
		if h, err = hw.header(p); err != nil {
			return err
		}
	}

	fmt.Println("Cartridge Identification")
	fmt.Println("========================")
	fmt.Printf("Slot:        %s\n", p.Slot)
	if h.GameCode != "" {
		fmt.Printf("Title:       %s\n", h.Title)
		fmt.Printf("Game code:   %s\n", h.GameCode)
	}
	printProfile(p)
	return nil
}

func printProfile(p cart.Profile) {
	if p.Special != cart.SpecialNone {
		fmt.Printf("Device:      %s (no save memory)\n", p.Special.Label())
		return
	}
	fmt.Printf("Save:        %s\n", p)
	if !p.Resolved() {
		return
	}
	fmt.Printf("Technology:  %s\n", p.Technology.Label())
	fmt.Printf("Capacity:    %s (%d bytes, 2^%d)\n", humanize.IBytes(uint64(p.Capacity)), p.Capacity, p.SizeLog2())
	if p.Vendor != "" {
		fmt.Printf("Vendor:      %s\n", p.Vendor)
	}
	if len(p.IdentifierCode) > 0 {
		fmt.Printf("ID:          0x%06X\n", p.ID())
	}
	fmt.Printf("Addressing:  %d bits\n", p.AddressWidth)

	g := p.Geometry
	fmt.Printf("Max read:    %d bytes\n", g.MaxRead)
	fmt.Printf("Max program: %d bytes\n", g.MaxProgram)
	if g.PageSize > 0 {
		fmt.Printf("Page:        %d bytes\n", g.PageSize)
	}
	if g.EraseUnit > 0 {
		fmt.Printf("Erase unit:  %s\n", humanize.IBytes(uint64(g.EraseUnit)))
	}
	if g.Boundary > 0 {
		fmt.Printf("Bank:        %s\n", humanize.IBytes(uint64(g.Boundary)))
	}
}
