package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"nsefeed/internal/domain"
)

// Compile-time interface checks.
var _ Store = (*SQLiteStore)(nil)
var _ Ledger = (*SQLiteStore)(nil)

// SQLiteStore implements Store and Ledger backed by an embedded SQLite
// database. It is the default when no Postgres host is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if missing, and returns a ready-to-use store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// SQLite creates the file, not its parent directories.
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cm_snapshot (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transcode INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			message_length INTEGER NOT NULL,
			security_token INTEGER,
			last_traded_price INTEGER,
			best_buy_quantity INTEGER,
			best_buy_price INTEGER,
			best_sell_quantity INTEGER,
			best_sell_price INTEGER,
			total_traded_quantity INTEGER,
			average_traded_price INTEGER,
			open_price INTEGER,
			high_price INTEGER,
			low_price INTEGER,
			close_price INTEGER,
			interval_open_price INTEGER,
			interval_high_price INTEGER,
			interval_low_price INTEGER,
			interval_close_price INTEGER,
			interval_total_traded_quantity INTEGER,
			indicative_close_price INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_snapshot_token ON cm_snapshot(security_token)`,
		`CREATE TABLE IF NOT EXISTS cm_index_snapshot (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transcode INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			message_length INTEGER NOT NULL,
			index_token INTEGER NOT NULL,
			open_index_value INTEGER,
			current_index_value INTEGER,
			high_index_value INTEGER,
			low_index_value INTEGER,
			percentage_change INTEGER,
			interval_open_index_value INTEGER,
			interval_high_index_value INTEGER,
			interval_low_index_value INTEGER,
			interval_close_index_value INTEGER,
			indicative_close_index_value INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_index_snapshot_token ON cm_index_snapshot(index_token)`,
		`CREATE TABLE IF NOT EXISTS cm_call_auction_snapshot (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transcode INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			message_length INTEGER NOT NULL,
			security_token INTEGER,
			last_traded_price INTEGER,
			best_buy_quantity INTEGER,
			best_buy_price INTEGER,
			buy_bbmm_flag TEXT,
			best_sell_quantity INTEGER,
			best_sell_price INTEGER,
			sell_bbmm_flag TEXT,
			total_traded_quantity INTEGER,
			indicative_traded_quantity INTEGER,
			average_traded_price INTEGER,
			first_open_price INTEGER,
			open_price INTEGER,
			high_price INTEGER,
			low_price INTEGER,
			close_price INTEGER,
			indicative_close_price INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_call_auction_token ON cm_call_auction_snapshot(security_token)`,
		`CREATE TABLE IF NOT EXISTS cm_token_master (
			token_number INTEGER PRIMARY KEY,
			symbol TEXT NOT NULL,
			series TEXT,
			issued_capital REAL,
			settlement_cycle INTEGER,
			company_name TEXT,
			permitted_to_trade INTEGER,
			last_updated TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bhavcopy (
			symbol TEXT NOT NULL,
			series TEXT,
			trade_high TEXT,
			trade_low TEXT,
			open TEXT,
			close TEXT,
			previous_close TEXT,
			total_traded_quantity TEXT,
			total_traded_value TEXT,
			business_timestamp INTEGER NOT NULL,
			PRIMARY KEY (symbol, business_timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_files (
			remote_path TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// InsertSnapshots appends the batch in transactions of batchSize rows.
func (s *SQLiteStore) InsertSnapshots(ctx context.Context, batch domain.Batch) error {
	switch batch.Kind {
	case domain.KindMarket:
		return s.insertChunked(ctx, len(batch.Market), func(tx *sql.Tx, i int) error {
			return insertMarketSQL(ctx, tx, batch.Market[i])
		})
	case domain.KindIndex:
		return s.insertChunked(ctx, len(batch.Index), func(tx *sql.Tx, i int) error {
			return insertIndexSQL(ctx, tx, batch.Index[i])
		})
	case domain.KindCallAuction:
		return s.insertChunked(ctx, len(batch.CallAuction), func(tx *sql.Tx, i int) error {
			return insertCallAuctionSQL(ctx, tx, batch.CallAuction[i])
		})
	}
	return domain.Persistence("insert", fmt.Errorf("unknown batch kind %q", batch.Kind))
}

// insertChunked runs one transaction per batchSize rows; a failed chunk is
// rolled back whole.
func (s *SQLiteStore) insertChunked(ctx context.Context, n int, insert func(tx *sql.Tx, i int) error) error {
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return domain.Persistence("begin", err)
		}
		for i := start; i < end; i++ {
			if err := insert(tx, i); err != nil {
				tx.Rollback()
				return domain.Persistence("insert", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return domain.Persistence("commit", err)
		}
	}
	return nil
}

func insertMarketSQL(ctx context.Context, tx *sql.Tx, r domain.MarketSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cm_snapshot (
			transcode, timestamp, message_length, security_token,
			last_traded_price, best_buy_quantity, best_buy_price,
			best_sell_quantity, best_sell_price, total_traded_quantity,
			average_traded_price, open_price, high_price, low_price,
			close_price, interval_open_price, interval_high_price,
			interval_low_price, interval_close_price,
			interval_total_traded_quantity, indicative_close_price
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Transcode, r.Timestamp, r.MessageLength, r.SecurityToken,
		r.LastTradedPrice, r.BestBuyQuantity, r.BestBuyPrice,
		r.BestSellQuantity, r.BestSellPrice, r.TotalTradedQuantity,
		r.AverageTradedPrice, r.OpenPrice, r.HighPrice, r.LowPrice,
		r.ClosePrice, r.IntervalOpenPrice, r.IntervalHighPrice,
		r.IntervalLowPrice, r.IntervalClosePrice,
		r.IntervalTotalTradedQuantity, r.IndicativeClosePrice)
	return err
}

func insertIndexSQL(ctx context.Context, tx *sql.Tx, r domain.IndexSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cm_index_snapshot (
			transcode, timestamp, message_length, index_token,
			open_index_value, current_index_value, high_index_value,
			low_index_value, percentage_change, interval_open_index_value,
			interval_high_index_value, interval_low_index_value,
			interval_close_index_value, indicative_close_index_value
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Transcode, r.Timestamp, r.MessageLength, r.IndexToken,
		r.OpenIndexValue, r.CurrentIndexValue, r.HighIndexValue,
		r.LowIndexValue, r.PercentageChange, r.IntervalOpenIndexValue,
		r.IntervalHighIndexValue, r.IntervalLowIndexValue,
		r.IntervalCloseIndexValue, r.IndicativeCloseIndexValue)
	return err
}

func insertCallAuctionSQL(ctx context.Context, tx *sql.Tx, r domain.CallAuctionSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cm_call_auction_snapshot (
			transcode, timestamp, message_length, security_token,
			last_traded_price, best_buy_quantity, best_buy_price,
			buy_bbmm_flag, best_sell_quantity, best_sell_price,
			sell_bbmm_flag, total_traded_quantity,
			indicative_traded_quantity, average_traded_price,
			first_open_price, open_price, high_price, low_price,
			close_price, indicative_close_price
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Transcode, r.Timestamp, r.MessageLength, r.SecurityToken,
		r.LastTradedPrice, r.BestBuyQuantity, r.BestBuyPrice,
		r.BuyBBMMFlag, r.BestSellQuantity, r.BestSellPrice,
		r.SellBBMMFlag, r.TotalTradedQuantity,
		r.IndicativeTradedQuantity, r.AverageTradedPrice,
		r.FirstOpenPrice, r.OpenPrice, r.HighPrice, r.LowPrice,
		r.ClosePrice, r.IndicativeClosePrice)
	return err
}

// UpsertSecurities replaces the row for each token number.
func (s *SQLiteStore) UpsertSecurities(ctx context.Context, secs []domain.SecurityMaster, lastUpdated string) error {
	return s.insertChunked(ctx, len(secs), func(tx *sql.Tx, i int) error {
		r := secs[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cm_token_master (
				token_number, symbol, series, issued_capital,
				settlement_cycle, company_name, permitted_to_trade, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (token_number) DO UPDATE SET
				symbol             = excluded.symbol,
				series             = excluded.series,
				issued_capital     = excluded.issued_capital,
				settlement_cycle   = excluded.settlement_cycle,
				company_name       = excluded.company_name,
				permitted_to_trade = excluded.permitted_to_trade,
				last_updated       = excluded.last_updated`,
			r.TokenNumber, r.Symbol, r.Series, r.IssuedCapital,
			r.SettlementCycle, r.CompanyName, r.PermittedToTrade, lastUpdated)
		return err
	})
}

// InsertBhavcopy inserts rows not already present for their key.
func (s *SQLiteStore) InsertBhavcopy(ctx context.Context, rows []domain.BhavcopyRow) error {
	return s.insertChunked(ctx, len(rows), func(tx *sql.Tx, i int) error {
		r := rows[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bhavcopy (
				symbol, series, trade_high, trade_low, open, close,
				previous_close, total_traded_quantity, total_traded_value,
				business_timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, business_timestamp) DO NOTHING`,
			r.Symbol, r.Series, r.TradeHigh, r.TradeLow, r.Open, r.Close,
			r.PreviousClose, r.TotalTradedQuantity, r.TotalTradedValue,
			r.BusinessTimestamp)
		return err
	})
}

// ---------------------------------------------------------------------------
// Ledger implementation
// ---------------------------------------------------------------------------

// Seen reports whether path has been marked processed.
func (s *SQLiteStore) Seen(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_files WHERE remote_path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.Persistence("ledger seen", err)
	}
	return true, nil
}

// Mark records path as processed; marking twice is a no-op.
func (s *SQLiteStore) Mark(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_files (remote_path) VALUES (?)
		 ON CONFLICT (remote_path) DO NOTHING`, path)
	if err != nil {
		return domain.Persistence("ledger mark", err)
	}
	return nil
}

// LoadProcessed returns every marked path.
func (s *SQLiteStore) LoadProcessed(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT remote_path FROM processed_files`)
	if err != nil {
		return nil, domain.Persistence("ledger load", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, domain.Persistence("ledger load", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
