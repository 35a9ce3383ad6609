package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nsefeed/internal/api"
	"nsefeed/internal/bus"
	"nsefeed/internal/config"
	"nsefeed/internal/decode"
	"nsefeed/internal/jobs"
	"nsefeed/internal/remote"
	"nsefeed/internal/store"
	"nsefeed/internal/util"
	"nsefeed/internal/watcher"
)

func main() {
	// Secrets usually come from a .env file in development.
	godotenv.Load()

	cfgPath := "config/nsefeed.yaml"
	if p := os.Getenv("NSEFEED_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres when a host is configured, embedded SQLite otherwise. Both
	// back the record store and the processed-file ledger.
	var (
		st     store.Store
		ledger store.Ledger
	)
	if cfg.Database.Host != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DSN())
		if err != nil {
			log.Fatalf("connecting to postgres: %v", err)
		}
		st, ledger = pg, pg
		logger.Info("using postgres store", "host", cfg.Database.Host, "db", cfg.Database.Name)
	} else {
		sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening sqlite store: %v", err)
		}
		st, ledger = sq, sq
		logger.Info("using sqlite store", "path", cfg.Storage.SQLitePath)
	}
	defer st.Close()

	var archive *store.ParquetArchive
	if cfg.Storage.Archive {
		archive = store.NewParquetArchive(cfg.Storage.DataDir)
		logger.Info("parquet archive enabled", "data_dir", cfg.Storage.DataDir)
	}

	transport := remote.NewSFTP(remote.SFTPConfig{
		Hosts:   cfg.SFTP.Hosts,
		Port:    cfg.SFTP.Port,
		User:    cfg.SFTP.User,
		Pass:    cfg.SFTP.Pass,
		KeyPath: cfg.SFTP.KeyPath,
		Timeout: time.Duration(cfg.SFTP.TimeoutSeconds) * time.Second,
	}, logger)
	defer transport.Close()

	dec := decode.New(logger)
	b := bus.New(logger)
	defer b.Close()

	w := watcher.New(watcher.Config{
		RemoteRoot:   cfg.SFTP.RemotePath,
		PollInterval: time.Duration(cfg.Watcher.PollIntervalSeconds) * time.Second,
	}, transport, dec, st, ledger, b, archive, logger)

	daily := jobs.New(jobs.Config{RemoteRoot: cfg.SFTP.RemotePath}, transport, dec, st, logger)
	if err := daily.Start(ctx); err != nil {
		log.Fatalf("starting daily jobs: %v", err)
	}
	defer daily.Stop()

	// One-off refresh so the token master is populated before the first
	// 06:00 run.
	go func() {
		if err := daily.RefreshSecurities(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("startup securities refresh failed", "error", err)
		}
	}()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := api.NewServer(addr, b, logger)
	go func() {
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("subscriber endpoint failed", "error", err)
			cancel()
		}
	}()

	fmt.Printf("nsefeed-server polling %s every %ds, serving ws on %s\n",
		cfg.SFTP.RemotePath, cfg.Watcher.PollIntervalSeconds, addr)

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("watcher error: %v", err)
	}
}
