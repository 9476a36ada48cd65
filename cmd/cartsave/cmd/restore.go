package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/transfer"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	restoreIn     string
	restoreFrom   string
	restoreOffset uint
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Write an image back to the save memory",
	Long: `Identify the cartridge in the selected slot and program an image into its save
memory, erasing flash sectors as needed and verifying every chunk. The image comes
from --in or from a catalog backup with --from-catalog. Without --offset the image
must be exactly the size of the chip.

Examples:
  cartsave restore --in game.sav
  cartsave restore --slot 2 --from-catalog 01J9Z3...`,
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVarP(&restoreIn, "in", "i", "", "image file to write")
	restoreCmd.Flags().StringVar(&restoreFrom, "from-catalog", "", "catalog backup id to write")
	restoreCmd.Flags().UintVar(&restoreOffset, "offset", 0, "write the image at this offset")
	addTransferFlags(restoreCmd)
}

func loadImage(cmd *cobra.Command) ([]byte, error) {
	switch {
	case restoreIn != "" && restoreFrom != "":
		return nil, fmt.Errorf("give --in or --from-catalog, not both")
	case restoreIn != "":
		return os.ReadFile(restoreIn)
	case restoreFrom != "":
		store, err := openCatalog()
		if err != nil {
			return nil, err
		}
		defer store.Close()
		src, b, err := store.Source(cmd.Context(), restoreFrom)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Using backup %s (%s %s)\n", b.ID, b.GameCode, b.CreatedAt.Format("2006-01-02 15:04"))
		return io.ReadAll(src)
	default:
		return nil, fmt.Errorf("nothing to write: give --in or --from-catalog")
	}
}

func runRestore(cmd *cobra.Command, args []string) error {
	image, err := loadImage(cmd)
	if err != nil {
		return err
	}

	hw, err := openHardware()
	if err != nil {
		return err
	}
	defer hw.Close()

	ctx, stop := signalContext()
	defer stop()

	session, _, err := hw.identify(ctx)
	if err != nil {
		return err
	}
	p, err := session.Active()
	if err != nil {
		return fmt.Errorf("cannot restore to %s: %w", p, err)
	}

	if restoreOffset == 0 && len(image) != p.Capacity {
		return fmt.Errorf("image is %s but the chip holds %s",
			humanize.IBytes(uint64(len(image))), humanize.IBytes(uint64(p.Capacity)))
	}

	plan, err := transfer.NewPlan(p, uint32(restoreOffset), len(image), transfer.DirWrite)
	if err != nil {
		return err
	}
	engine, err := hw.newEngine(p, "Writing")
	if err != nil {
		return err
	}

	res, err := engine.WriteFrom(ctx, plan, bytes.NewReader(image))
	if err != nil {
		reportFailure(res, err)
		return err
	}

	fmt.Printf("Wrote %s to %s", humanize.IBytes(uint64(res.BytesDone)), p)
	if n := plan.Count(cart.OpErase); n > 0 {
		fmt.Printf(", %d erase units", n)
	}
	fmt.Println()
	return nil
}
