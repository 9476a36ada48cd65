package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/catalog"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/transfer"
	"github.com/dustin/go-humanize"
)

var (
	// Transfer flags shared by backup and restore
	attempts int
	noVerify bool
	quiet    bool
)

// signalContext is cancelled by Ctrl-C; the engine stops between chunks.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openCatalog() (*catalog.Store, error) {
	path := catalogPath
	if path == "" {
		path = catalog.DefaultPath()
	}
	return catalog.Open(path)
}

// progressPrinter reports every tenth of the transfer on stderr.
func progressPrinter(label string) transfer.ProgressFunc {
	last := -1
	return func(done, total int) {
		if quiet || total == 0 {
			return
		}
		step := done * 10 / total
		if step == last {
			return
		}
		last = step
		fmt.Fprintf(os.Stderr, "\r%s %s / %s (%d%%)", label,
			humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)), done*100/total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// newEngine builds the engine for the identified profile.
func (hw *hardware) newEngine(p cart.Profile, label string) (*transfer.Engine, error) {
	exec, err := hw.executor(p)
	if err != nil {
		return nil, err
	}
	return transfer.NewEngine(exec,
		transfer.WithAttempts(attempts),
		transfer.WithVerify(!noVerify),
		transfer.WithProgress(progressPrinter(label)),
		transfer.WithLogger(hw.log),
	)
}

// reportFailure prints how far a failed transfer got and whether running
// the command again may help.
func reportFailure(res transfer.Result, err error) {
	fmt.Printf("Transfer %s after %s of %s", res.Status,
		humanize.IBytes(uint64(res.BytesDone)), humanize.IBytes(uint64(res.BytesTotal)))
	if res.FailedChunk >= 0 {
		fmt.Printf(" (chunk %d, %d attempts)", res.FailedChunk, res.Attempts[res.FailedChunk])
	}
	fmt.Println()
	if cart.Retryable(err) {
		fmt.Println("The failure may be transient: reseat the cartridge and run the command again.")
	}
}

// resolveRange turns --offset/--length into a range inside the chip.
func resolveRange(p cart.Profile, offset uint, length int) (uint32, int, error) {
	if int(offset) >= p.Capacity {
		return 0, 0, fmt.Errorf("offset %#x is past the end of a %s chip", offset, humanize.IBytes(uint64(p.Capacity)))
	}
	if length <= 0 {
		length = p.Capacity - int(offset)
	}
	return uint32(offset), length, nil
}
