// Package logsink adapts the bus's per-(pkgbase,timestamp) log storage
// (internal/bus) into a logger.Printer so every component writes build
// logs the same way it writes console output — through the teacher's
// Logger/Printer abstraction — while those bytes simultaneously land in
// the bus for the HTTP log endpoint to stream.
package logsink

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// Printer writes log lines for one (pkgbase, timestamp) build into the bus.
type Printer struct {
	bus      *bus.Bus
	pkgbase  string
	ts       int64
	fallback logger.Printer // also written to, e.g. the process's own stdout printer
}

func NewPrinter(b *bus.Bus, pkgbase string, ts int64, fallback logger.Printer) *Printer {
	return &Printer{bus: b, pkgbase: pkgbase, ts: ts, fallback: fallback}
}

func (p *Printer) Print(level logger.Level, msg string, fields logger.Fields) {
	if p.fallback != nil {
		p.fallback.Print(level, msg, fields)
	}
	line := msg
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	// Best-effort: a bus hiccup must not crash the build; it only means a
	// line is missing from the live stream, which is still visible via the
	// fallback printer's own destination.
	_ = p.bus.AppendLog(context.Background(), p.pkgbase, p.ts, []byte(line))
}

// NewLogger builds a full logger.Logger bound to (pkgbase, ts), writing
// both to the bus and to fallback.
func NewLogger(b *bus.Bus, pkgbase string, ts int64, fallback logger.Printer) logger.Logger {
	return logger.NewConsoleLogger(NewPrinter(b, pkgbase, ts, fallback), func(int) {})
}

// printerWriter adapts a (bus, pkgbase, ts) destination to an io.Writer so
// it can be handed to container.Runtime.Start as its line sink: each Write
// is appended verbatim, whatever its line boundaries.
type printerWriter struct {
	bus     *bus.Bus
	pkgbase string
	ts      int64
}

func (w *printerWriter) Write(p []byte) (int, error) {
	if err := w.bus.AppendLog(context.Background(), w.pkgbase, w.ts, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewPrinterWriter returns an io.Writer that appends everything written to
// it into (pkgbase, ts)'s log stream, for callers that stream raw bytes
// (e.g. a container's stdout/stderr) rather than going through a Logger.
func NewPrinterWriter(b *bus.Bus, pkgbase string, ts int64) io.Writer {
	return &printerWriter{bus: b, pkgbase: pkgbase, ts: ts}
}

// Line appends a single pre-formatted line directly, bypassing the printer
// machinery — used for the exact status lines spec.md §4.1/§4.2 require
// ("Processing build job at …", "finished at …", …).
func Line(ctx context.Context, b *bus.Bus, pkgbase string, ts int64, format string, args ...any) error {
	line := fmt.Sprintf(format, args...) + "\n"
	return b.AppendLog(ctx, pkgbase, ts, []byte(line))
}

// End closes out a build's log stream.
func End(ctx context.Context, b *bus.Bus, pkgbase string, ts int64) error {
	return b.EndLog(ctx, pkgbase, ts)
}

// SetDefault marks ts as pkgbase's current default build.
func SetDefault(ctx context.Context, b *bus.Bus, pkgbase string, ts int64) error {
	return b.SetDefault(ctx, pkgbase, ts)
}
