package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/catalog"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listGame  string
	listLimit int
	exportOut string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage stored backups",
	Long: `List, export and delete the backups kept in the local catalog. The catalog is a
SQLite database at --catalog, $CARTSAVE_CATALOG or ~/.cartsave/catalog.db.`,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backups, newest first",
	RunE:  runCatalogList,
}

var catalogExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Write a stored backup to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogExport,
}

var catalogDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a stored backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogDelete,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogExportCmd, catalogDeleteCmd)

	catalogListCmd.Flags().StringVar(&listGame, "game", "", "only backups of this game code")
	catalogListCmd.Flags().IntVar(&listLimit, "limit", 0, "show at most this many backups")
	catalogExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (required)")
	catalogExportCmd.MarkFlagRequired("out")
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	backups, err := store.List(cmd.Context(), catalog.ListParams{GameCode: listGame, Limit: listLimit})
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backups stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLOT\tGAME\tSAVE\tSIZE\tCREATED\tNOTE")
	for _, b := range backups {
		game := b.GameCode
		if game == "" {
			game = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Slot, game, b.Technology.Label(),
			humanize.IBytes(uint64(b.Size)), humanize.Time(b.CreatedAt), b.Note)
	}
	return w.Flush()
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	src, b, err := store.Source(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", b.ID, err)
	}
	fmt.Printf("Exported %s (%s) to %s\n", b.ID, humanize.IBytes(uint64(n)), exportOut)
	return nil
}

func runCatalogDelete(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
