// Package jobs schedules the daily pulls that complement the snapshot
// watcher: the previous day's bhavcopy and a refresh of the securities
// master. Both fire at 06:00 exchange time, well before the trading session.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/robfig/cron/v3"

	"nsefeed/internal/decode"
	"nsefeed/internal/remote"
	"nsefeed/internal/store"
	"nsefeed/internal/util"
)

const dailySpec = "0 6 * * *"

// Config holds the job parameters.
type Config struct {
	// RemoteRoot is the base path on the endpoint, e.g. "/CM30".
	RemoteRoot string

	// IsHoliday augments the weekend roll-back when resolving the previous
	// business day. Nil means weekends only.
	IsHoliday util.HolidayFunc

	// Now is swapped out in tests; defaults to time.Now.
	Now func() time.Time

	// RetryAttempts and RetryDelay bound the fetch retry. Defaults: 3
	// attempts starting at 30 s.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Jobs owns the cron runner for the daily pulls.
type Jobs struct {
	cfg       Config
	transport remote.Transport
	dec       *decode.Decoder
	store     store.Store
	log       *slog.Logger

	cron *cron.Cron
}

// New assembles the daily jobs.
func New(cfg Config, transport remote.Transport, dec *decode.Decoder, st store.Store, log *slog.Logger) *Jobs {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &Jobs{
		cfg:       cfg,
		transport: transport,
		dec:       dec,
		store:     st,
		log:       log,
		cron:      cron.New(cron.WithLocation(util.ExchangeLocation())),
	}
}

// Start registers the 06:00 jobs and launches the runner. ctx bounds each
// job run; Stop cancels the schedule.
func (j *Jobs) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(dailySpec, func() {
		if err := j.PullBhavcopy(ctx); err != nil {
			j.log.Error("bhavcopy job failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling bhavcopy job: %w", err)
	}
	if _, err := j.cron.AddFunc(dailySpec, func() {
		if err := j.RefreshSecurities(ctx); err != nil {
			j.log.Error("securities refresh job failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling securities job: %w", err)
	}

	j.cron.Start()
	j.log.Info("daily jobs scheduled", "spec", dailySpec, "tz", util.ExchangeTimeZone)
	return nil
}

// Stop halts the schedule; a running job finishes.
func (j *Jobs) Stop() {
	j.cron.Stop()
}

// PullBhavcopy fetches and persists the previous business day's bhavcopy.
// Path: <root>/BHAVCOPY/<MonthDDYYYY>/CMBhavcopy_<DDMMYYYY>.txt.
func (j *Jobs) PullBhavcopy(ctx context.Context) error {
	day := util.PreviousBusinessDay(j.cfg.Now().In(util.ExchangeLocation()), j.cfg.IsHoliday)
	name := "CMBhavcopy_" + util.BhavcopyFileDate(day) + ".txt"
	remotePath := path.Join(j.cfg.RemoteRoot, "BHAVCOPY", util.RemoteDateDir(day), name)

	started := time.Now()
	var raw []byte
	// The file can land a little after 06:00; retry before giving up
	// for the day.
	err := util.Retry(ctx, j.cfg.RetryAttempts, j.cfg.RetryDelay, func() error {
		var ferr error
		raw, ferr = j.transport.Fetch(ctx, remotePath)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetching %s: %w", remotePath, err)
	}

	rows, err := j.dec.Bhavcopy(name, raw)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	if len(rows) == 0 {
		j.log.Warn("bhavcopy empty", "remote_path", remotePath)
		return nil
	}

	if err := j.store.InsertBhavcopy(ctx, rows); err != nil {
		return err
	}
	j.log.Info("bhavcopy ingested",
		"remote_path", remotePath,
		"rows", len(rows),
		"elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// RefreshSecurities fetches Securities.dat from today's directory, falling
// back to yesterday's, and upserts the decoded master.
// Path: <root>/SECURITY/<MonthDDYYYY>/Securities.dat.
func (j *Jobs) RefreshSecurities(ctx context.Context) error {
	today := j.cfg.Now().In(util.ExchangeLocation())

	remotePath := path.Join(j.cfg.RemoteRoot, "SECURITY", util.RemoteDateDir(today), "Securities.dat")
	raw, err := j.transport.Fetch(ctx, remotePath)
	if err != nil {
		yesterday := today.AddDate(0, 0, -1)
		fallback := path.Join(j.cfg.RemoteRoot, "SECURITY", util.RemoteDateDir(yesterday), "Securities.dat")
		j.log.Warn("securities master missing for today, trying yesterday",
			"remote_path", remotePath, "fallback", fallback, "error", err)
		remotePath = fallback
		if raw, err = j.transport.Fetch(ctx, remotePath); err != nil {
			return fmt.Errorf("fetching %s: %w", remotePath, err)
		}
	}

	started := time.Now()
	secs := j.dec.Securities(raw)
	if len(secs) == 0 {
		j.log.Warn("securities master decoded to zero records", "remote_path", remotePath)
		return nil
	}

	lastUpdated := today.Format("2006-01-02")
	if err := j.store.UpsertSecurities(ctx, secs, lastUpdated); err != nil {
		return err
	}
	j.log.Info("securities master refreshed",
		"remote_path", remotePath,
		"records", len(secs),
		"elapsed_ms", time.Since(started).Milliseconds())
	return nil
}
