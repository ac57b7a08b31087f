package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/hupe1980/sigindex"
	"github.com/hupe1980/sigindex/internal/config"
)

// NewLogger builds the CLI logger. The tint format colors output only
// when w is a terminal.
func NewLogger(cfg config.LogConfig, w io.Writer) *sigindex.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	switch cfg.Format {
	case "json":
		return sigindex.NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case "text":
		return sigindex.NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
		if !noColor {
			w = colorable.NewColorable(f)
		}
	}
	return sigindex.NewLogger(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}
