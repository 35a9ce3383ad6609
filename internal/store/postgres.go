package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nsefeed/internal/domain"
)

// Compile-time interface checks.
var _ Store = (*PostgresStore)(nil)
var _ Ledger = (*PostgresStore)(nil)

// PostgresStore implements Store and Ledger backed by a Postgres pool. It is
// selected when a database host is configured.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, creates the schema if
// missing, and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cm_snapshot (
			id BIGSERIAL PRIMARY KEY,
			transcode SMALLINT NOT NULL,
			timestamp BIGINT NOT NULL,
			message_length SMALLINT NOT NULL,
			security_token BIGINT,
			last_traded_price BIGINT,
			best_buy_quantity BIGINT,
			best_buy_price BIGINT,
			best_sell_quantity BIGINT,
			best_sell_price BIGINT,
			total_traded_quantity BIGINT,
			average_traded_price BIGINT,
			open_price BIGINT,
			high_price BIGINT,
			low_price BIGINT,
			close_price BIGINT,
			interval_open_price BIGINT,
			interval_high_price BIGINT,
			interval_low_price BIGINT,
			interval_close_price BIGINT,
			interval_total_traded_quantity BIGINT,
			indicative_close_price BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_snapshot_token ON cm_snapshot(security_token)`,
		`CREATE TABLE IF NOT EXISTS cm_index_snapshot (
			id BIGSERIAL PRIMARY KEY,
			transcode SMALLINT NOT NULL,
			timestamp BIGINT NOT NULL,
			message_length SMALLINT NOT NULL,
			index_token BIGINT NOT NULL,
			open_index_value BIGINT,
			current_index_value BIGINT,
			high_index_value BIGINT,
			low_index_value BIGINT,
			percentage_change BIGINT,
			interval_open_index_value BIGINT,
			interval_high_index_value BIGINT,
			interval_low_index_value BIGINT,
			interval_close_index_value BIGINT,
			indicative_close_index_value BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_index_snapshot_token ON cm_index_snapshot(index_token)`,
		`CREATE TABLE IF NOT EXISTS cm_call_auction_snapshot (
			id BIGSERIAL PRIMARY KEY,
			transcode SMALLINT NOT NULL,
			timestamp BIGINT NOT NULL,
			message_length SMALLINT NOT NULL,
			security_token BIGINT,
			last_traded_price BIGINT,
			best_buy_quantity BIGINT,
			best_buy_price BIGINT,
			buy_bbmm_flag VARCHAR(1),
			best_sell_quantity BIGINT,
			best_sell_price BIGINT,
			sell_bbmm_flag VARCHAR(1),
			total_traded_quantity BIGINT,
			indicative_traded_quantity BIGINT,
			average_traded_price BIGINT,
			first_open_price BIGINT,
			open_price BIGINT,
			high_price BIGINT,
			low_price BIGINT,
			close_price BIGINT,
			indicative_close_price BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_call_auction_token ON cm_call_auction_snapshot(security_token)`,
		`CREATE TABLE IF NOT EXISTS cm_token_master (
			token_number BIGINT PRIMARY KEY,
			symbol TEXT NOT NULL,
			series TEXT,
			issued_capital DOUBLE PRECISION,
			settlement_cycle SMALLINT,
			company_name TEXT,
			permitted_to_trade SMALLINT,
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
			business_timestamp BIGINT NOT NULL,
			PRIMARY KEY (symbol, business_timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_files (
			remote_path TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// InsertSnapshots appends the batch in transactions of batchSize rows.
func (s *PostgresStore) InsertSnapshots(ctx context.Context, batch domain.Batch) error {
	switch batch.Kind {
	case domain.KindMarket:
		return s.insertChunked(ctx, len(batch.Market), func(tx pgx.Tx, i int) error {
			return insertMarketPG(ctx, tx, batch.Market[i])
		})
	case domain.KindIndex:
		return s.insertChunked(ctx, len(batch.Index), func(tx pgx.Tx, i int) error {
			return insertIndexPG(ctx, tx, batch.Index[i])
		})
	case domain.KindCallAuction:
		return s.insertChunked(ctx, len(batch.CallAuction), func(tx pgx.Tx, i int) error {
			return insertCallAuctionPG(ctx, tx, batch.CallAuction[i])
		})
	}
	return domain.Persistence("insert", fmt.Errorf("unknown batch kind %q", batch.Kind))
}

func (s *PostgresStore) insertChunked(ctx context.Context, n int, insert func(tx pgx.Tx, i int) error) error {
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return domain.Persistence("begin", err)
		}
		for i := start; i < end; i++ {
			if err := insert(tx, i); err != nil {
				tx.Rollback(ctx)
				return domain.Persistence("insert", err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.Persistence("commit", err)
		}
	}
	return nil
}

func insertMarketPG(ctx context.Context, tx pgx.Tx, r domain.MarketSnapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cm_snapshot (
			transcode, timestamp, message_length, security_token,
			last_traded_price, best_buy_quantity, best_buy_price,
			best_sell_quantity, best_sell_price, total_traded_quantity,
			average_traded_price, open_price, high_price, low_price,
			close_price, interval_open_price, interval_high_price,
			interval_low_price, interval_close_price,
			interval_total_traded_quantity, indicative_close_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		          $14, $15, $16, $17, $18, $19, $20, $21)`,
		r.Transcode, r.Timestamp, r.MessageLength, r.SecurityToken,
		r.LastTradedPrice, r.BestBuyQuantity, r.BestBuyPrice,
		r.BestSellQuantity, r.BestSellPrice, r.TotalTradedQuantity,
		r.AverageTradedPrice, r.OpenPrice, r.HighPrice, r.LowPrice,
		r.ClosePrice, r.IntervalOpenPrice, r.IntervalHighPrice,
		r.IntervalLowPrice, r.IntervalClosePrice,
		r.IntervalTotalTradedQuantity, r.IndicativeClosePrice)
	return err
}

func insertIndexPG(ctx context.Context, tx pgx.Tx, r domain.IndexSnapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cm_index_snapshot (
			transcode, timestamp, message_length, index_token,
			open_index_value, current_index_value, high_index_value,
			low_index_value, percentage_change, interval_open_index_value,
			interval_high_index_value, interval_low_index_value,
			interval_close_index_value, indicative_close_index_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.Transcode, r.Timestamp, r.MessageLength, r.IndexToken,
		r.OpenIndexValue, r.CurrentIndexValue, r.HighIndexValue,
		r.LowIndexValue, r.PercentageChange, r.IntervalOpenIndexValue,
		r.IntervalHighIndexValue, r.IntervalLowIndexValue,
		r.IntervalCloseIndexValue, r.IndicativeCloseIndexValue)
	return err
}

func insertCallAuctionPG(ctx context.Context, tx pgx.Tx, r domain.CallAuctionSnapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cm_call_auction_snapshot (
			transcode, timestamp, message_length, security_token,
			last_traded_price, best_buy_quantity, best_buy_price,
			buy_bbmm_flag, best_sell_quantity, best_sell_price,
			sell_bbmm_flag, total_traded_quantity,
			indicative_traded_quantity, average_traded_price,
			first_open_price, open_price, high_price, low_price,
			close_price, indicative_close_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		          $14, $15, $16, $17, $18, $19, $20)`,
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
func (s *PostgresStore) UpsertSecurities(ctx context.Context, secs []domain.SecurityMaster, lastUpdated string) error {
	return s.insertChunked(ctx, len(secs), func(tx pgx.Tx, i int) error {
		r := secs[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO cm_token_master (
				token_number, symbol, series, issued_capital,
				settlement_cycle, company_name, permitted_to_trade, last_updated
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (token_number) DO UPDATE SET
				symbol             = EXCLUDED.symbol,
				series             = EXCLUDED.series,
				issued_capital     = EXCLUDED.issued_capital,
				settlement_cycle   = EXCLUDED.settlement_cycle,
				company_name       = EXCLUDED.company_name,
				permitted_to_trade = EXCLUDED.permitted_to_trade,
				last_updated       = EXCLUDED.last_updated`,
			r.TokenNumber, r.Symbol, r.Series, r.IssuedCapital,
			r.SettlementCycle, r.CompanyName, r.PermittedToTrade, lastUpdated)
		return err
	})
}

// InsertBhavcopy inserts rows not already present for their key.
func (s *PostgresStore) InsertBhavcopy(ctx context.Context, rows []domain.BhavcopyRow) error {
	return s.insertChunked(ctx, len(rows), func(tx pgx.Tx, i int) error {
		r := rows[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO bhavcopy (
				symbol, series, trade_high, trade_low, open, close,
				previous_close, total_traded_quantity, total_traded_value,
				business_timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
func (s *PostgresStore) Seen(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_files WHERE remote_path = $1`, path).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Persistence("ledger seen", err)
	}
	return true, nil
}

// Mark records path as processed; marking twice is a no-op.
func (s *PostgresStore) Mark(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_files (remote_path) VALUES ($1)
		 ON CONFLICT (remote_path) DO NOTHING`, path)
	if err != nil {
		return domain.Persistence("ledger mark", err)
	}
	return nil
}

// LoadProcessed returns every marked path.
func (s *PostgresStore) LoadProcessed(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT remote_path FROM processed_files`)
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
