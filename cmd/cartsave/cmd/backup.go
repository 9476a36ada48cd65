package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/catalog"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/transfer"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	backupOut    string
	backupStore  bool
	backupNote   string
	backupOffset uint
	backupLength int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Read the save memory into a file or the catalog",
	Long: `Identify the cartridge in the selected slot and read its save memory. The image
goes to --out, into the backup catalog with --store, or both. A range can be read
with --offset and --length; catalog backups always hold the whole chip.

Examples:
  cartsave backup --out game.sav
  cartsave backup --slot 2 --store --note "before trade"`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVarP(&backupOut, "out", "o", "", "write the image to this file")
	backupCmd.Flags().BoolVar(&backupStore, "store", false, "store the image in the backup catalog")
	backupCmd.Flags().StringVar(&backupNote, "note", "", "note saved with a catalog backup")
	backupCmd.Flags().UintVar(&backupOffset, "offset", 0, "first byte to read")
	backupCmd.Flags().IntVar(&backupLength, "length", 0, "bytes to read (default: to the end of the chip)")
	addTransferFlags(backupCmd)
}

func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&attempts, "attempts", 3, "tries per chunk before giving up")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip read-back verification")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress output")
}

func runBackup(cmd *cobra.Command, args []string) error {
	if backupOut == "" && !backupStore {
		return fmt.Errorf("nothing to do: give --out and/or --store")
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
		return fmt.Errorf("cannot back up %s: %w", p, err)
	}

	offset, length, err := resolveRange(p, backupOffset, backupLength)
	if err != nil {
		return err
	}
	if backupStore && (offset != 0 || length != p.Capacity) {
		return fmt.Errorf("--store needs the whole chip, not a range")
	}

	plan, err := transfer.NewPlan(p, offset, length, transfer.DirRead)
	if err != nil {
		return err
	}
	engine, err := hw.newEngine(p, "Reading")
	if err != nil {
		return err
	}

	var (
		sinks []io.Writer
		store *catalog.Store
		entry *catalog.Sink
		image bytes.Buffer
	)
	if backupOut != "" {
		sinks = append(sinks, &image)
	}
	if backupStore {
		store, err = openCatalog()
		if err != nil {
			return err
		}
		defer store.Close()

		meta := catalog.MetaFor(p)
		h, err := hw.header(p)
		if err != nil {
			return err
		}
		meta.GameCode, meta.Title, meta.Note = h.GameCode, h.Title, backupNote
		entry = store.NewSink(meta)
		sinks = append(sinks, entry)
	}

	res, err := engine.ReadTo(ctx, plan, io.MultiWriter(sinks...))
	if err != nil {
		reportFailure(res, err)
		return err
	}

	fmt.Printf("Read %s from %s\n", humanize.IBytes(uint64(res.BytesDone)), p)
	if backupOut != "" {
		if err := os.WriteFile(backupOut, image.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", backupOut, err)
		}
		fmt.Printf("Saved to %s\n", backupOut)
	}
	if entry != nil {
		b, err := entry.Commit(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Stored as %s\n", b.ID)
	}
	return nil
}
