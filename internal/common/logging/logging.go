// Package logging builds the zerolog logger shared by the mlcserve binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"mlcserve/internal/common/fsutil"
)

// Options selects level, output format and an optional rotating log file.
type Options struct {
	// Level is a zerolog level name; "info" when empty.
	Level string
	// Format is auto, console or json. Auto picks console on a terminal.
	Format string
	// File, when set, receives JSON logs in addition to the primary output.
	File string
	// MaxSizeMB and MaxBackups bound the rotated file; lumberjack defaults when zero.
	MaxSizeMB  int
	MaxBackups int
}

// New returns a logger writing to out (stderr when nil). The returned closer
// releases the log file and is never nil.
func New(opts Options, out io.Writer) (zerolog.Logger, io.Closer, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level: %w", err)
		}
		lvl = l
	}
	var primary io.Writer
	switch strings.ToLower(opts.Format) {
	case "", "auto":
		primary = out
		if isTerminal(out) {
			primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	case "console":
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !isTerminal(out)}
	case "json":
		primary = out
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unknown log format %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	w := primary
	if opts.File != "" {
		path, err := fsutil.ExpandHome(opts.File)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		closer = lj
		w = zerolog.MultiLevelWriter(primary, lj)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
