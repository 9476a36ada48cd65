package cmd

import (
	"log/slog"
	"os"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// slogLogger adapts slog to cart.Logger.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, kv ...interface{}) { s.l.Debug(msg, kv...) }
func (s slogLogger) Info(msg string, kv ...interface{})  { s.l.Info(msg, kv...) }
func (s slogLogger) Error(msg string, kv ...interface{}) { s.l.Error(msg, kv...) }

// newLogger returns nil unless --verbose is set; the libraries treat nil as
// silence.
func newLogger() cart.Logger {
	if !verbose {
		return nil
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slogLogger{l: slog.New(h)}
}
