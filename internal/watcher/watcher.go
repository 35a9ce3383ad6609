// Package watcher runs the snapshot ingest loop: discover new files on the
// exchange endpoint, decode them, persist, fan out, and mark them processed.
package watcher

import (
	"context"
	"log/slog"
	"path"
	"time"

	"nsefeed/internal/bus"
	"nsefeed/internal/decode"
	"nsefeed/internal/remote"
	"nsefeed/internal/store"
	"nsefeed/internal/util"
)

// Config holds the watcher parameters.
type Config struct {
	// RemoteRoot is the base path on the endpoint, e.g. "/CM30". Snapshot
	// files live under <RemoteRoot>/DATA/<MonthDDYYYY>.
	RemoteRoot string

	// PollInterval is the sleep between cycles. Defaults to one minute.
	PollInterval time.Duration

	// Now is swapped out in tests; defaults to time.Now.
	Now func() time.Time
}

// Watcher is the main ingest loop. One file moves through
// fetch → decode → persist → publish → mark; only the mark is durable, so
// any earlier failure re-delivers the file on the next cycle.
type Watcher struct {
	cfg       Config
	transport remote.Transport
	dec       *decode.Decoder
	store     store.Store
	ledger    store.Ledger
	bus       *bus.Bus
	archive   *store.ParquetArchive // nil disables archiving
	log       *slog.Logger

	// seen is the hot copy of the ledger, warmed at startup.
	seen map[string]bool
}

// New assembles a watcher. archive may be nil.
func New(cfg Config, transport remote.Transport, dec *decode.Decoder, st store.Store,
	ledger store.Ledger, b *bus.Bus, archive *store.ParquetArchive, log *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Watcher{
		cfg:       cfg,
		transport: transport,
		dec:       dec,
		store:     st,
		ledger:    ledger,
		bus:       b,
		archive:   archive,
		log:       log,
		seen:      make(map[string]bool),
	}
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately; an in-flight cycle finishes its current file before exiting.
func (w *Watcher) Run(ctx context.Context) error {
	w.warmCache(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.Cycle(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// warmCache loads the durable ledger into the hot cache so a restart does
// not re-check every already-ingested path against the database.
func (w *Watcher) warmCache(ctx context.Context) {
	paths, err := w.ledger.LoadProcessed(ctx)
	if err != nil {
		w.log.Warn("ledger warm-up failed, starting with a cold cache", "error", err)
		return
	}
	for _, p := range paths {
		w.seen[p] = true
	}
	w.log.Info("ledger cache warmed", "paths", len(paths))
}

// Cycle runs one discovery pass: list today's directory (falling back to
// yesterday's), then ingest every path not yet processed.
func (w *Watcher) Cycle(ctx context.Context) {
	started := w.cfg.Now()
	today := started.In(util.ExchangeLocation())

	dir := path.Join(w.cfg.RemoteRoot, "DATA", util.RemoteDateDir(today))
	paths, err := w.transport.List(ctx, dir)
	if err != nil {
		yesterday := today.AddDate(0, 0, -1)
		dir = path.Join(w.cfg.RemoteRoot, "DATA", util.RemoteDateDir(yesterday))
		paths, err = w.transport.List(ctx, dir)
	}
	if err != nil {
		w.log.Warn("listing failed for today and yesterday, skipping cycle", "error", err)
		return
	}

	var ingested, skipped, failed int
	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		if w.seen[p] {
			continue
		}
		switch w.ingest(ctx, p) {
		case ingestOK:
			ingested++
		case ingestSkipped:
			skipped++
		case ingestFailed:
			failed++
		}
	}

	w.log.Info("cycle complete",
		"remote_dir", dir,
		"listed", len(paths),
		"ingested", ingested,
		"skipped", skipped,
		"failed", failed,
		"elapsed_ms", time.Since(started).Milliseconds())
}

type ingestResult int

const (
	ingestOK ingestResult = iota
	ingestSkipped
	ingestFailed
)

// ingest moves one remote file through the pipeline. The ledger mark comes
// strictly after a successful persist; a failure at any earlier step leaves
// the file unmarked for the next cycle.
func (w *Watcher) ingest(ctx context.Context, remotePath string) ingestResult {
	kind, interesting := decode.KindForPath(remotePath)
	if !interesting {
		// Mark straight away so the path stops showing up as new.
		w.mark(ctx, remotePath)
		return ingestSkipped
	}

	if seen, err := w.ledger.Seen(ctx, remotePath); err != nil {
		w.log.Warn("ledger check failed", "remote_path", remotePath, "error", err)
		return ingestFailed
	} else if seen {
		w.seen[remotePath] = true
		return ingestSkipped
	}

	started := time.Now()

	raw, err := w.transport.Fetch(ctx, remotePath)
	if err != nil {
		w.log.Warn("fetch failed", "remote_path", remotePath, "error", err)
		return ingestFailed
	}

	batch, err := w.dec.Snapshot(remotePath, raw)
	if err != nil {
		w.log.Error("decode failed", "remote_path", remotePath, "kind", kind, "error", err)
		return ingestFailed
	}

	if batch.Len() == 0 {
		w.log.Info("empty file", "remote_path", remotePath, "kind", kind)
		w.mark(ctx, remotePath)
		return ingestSkipped
	}

	if err := w.store.InsertSnapshots(ctx, batch); err != nil {
		w.log.Error("persist failed, will retry next cycle",
			"remote_path", remotePath, "kind", kind, "records", batch.Len(), "error", err)
		return ingestFailed
	}

	if w.archive != nil {
		if err := w.archive.Write(batch, w.cfg.Now().In(util.ExchangeLocation())); err != nil {
			w.log.Warn("archive write failed", "remote_path", remotePath, "error", err)
		}
	}

	w.bus.Publish(batch)
	w.mark(ctx, remotePath)

	w.log.Info("ingested",
		"remote_path", remotePath,
		"kind", kind,
		"records", batch.Len(),
		"elapsed_ms", time.Since(started).Milliseconds())
	return ingestOK
}

// mark writes the path to the durable ledger and the hot cache. On a ledger
// write failure the hot cache still suppresses the path for the life of the
// process; a restart re-ingests it.
func (w *Watcher) mark(ctx context.Context, remotePath string) {
	if err := w.ledger.Mark(ctx, remotePath); err != nil {
		w.log.Warn("ledger mark failed", "remote_path", remotePath, "error", err)
	}
	w.seen[remotePath] = true
}
