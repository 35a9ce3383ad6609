package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"nsefeed/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, s *SQLiteStore, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestNewSQLiteStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "feed.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore with missing parent dirs: %v", err)
	}
	defer s.Close()

	if err := s.Mark(context.Background(), "/CM30/DATA/July082025/1100.mkt.gz"); err != nil {
		t.Fatalf("Mark on fresh store: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestInsertSnapshotsAppends(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := domain.Batch{
		Kind: domain.KindMarket,
		Market: []domain.MarketSnapshot{
			{Header: domain.Header{Transcode: 18705, Timestamp: 100, MessageLength: 96}, SecurityToken: 22, LastTradedPrice: 123450},
			{Header: domain.Header{Transcode: 18705, Timestamp: 101, MessageLength: 96}, SecurityToken: 25, LastTradedPrice: 98700},
		},
	}
	if err := s.InsertSnapshots(ctx, batch); err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}
	// Append semantics: the same batch lands twice.
	if err := s.InsertSnapshots(ctx, batch); err != nil {
		t.Fatalf("InsertSnapshots again: %v", err)
	}
	if n := countRows(t, s, "cm_snapshot"); n != 4 {
		t.Errorf("cm_snapshot rows = %d, want 4", n)
	}

	var ltp int64
	err := s.db.QueryRow(`SELECT last_traded_price FROM cm_snapshot WHERE security_token = 22 LIMIT 1`).Scan(&ltp)
	if err != nil || ltp != 123450 {
		t.Errorf("token 22 last_traded_price = %d err=%v, want 123450", ltp, err)
	}
}

func TestInsertSnapshotsOtherKinds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	idx := domain.Batch{
		Kind: domain.KindIndex,
		Index: []domain.IndexSnapshot{
			{Header: domain.Header{Transcode: 18706, Timestamp: 200, MessageLength: 52}, IndexToken: 1, CurrentIndexValue: 2478115},
		},
	}
	if err := s.InsertSnapshots(ctx, idx); err != nil {
		t.Fatalf("index batch: %v", err)
	}
	if n := countRows(t, s, "cm_index_snapshot"); n != 1 {
		t.Errorf("cm_index_snapshot rows = %d, want 1", n)
	}

	ca := domain.Batch{
		Kind: domain.KindCallAuction,
		CallAuction: []domain.CallAuctionSnapshot{
			{Header: domain.Header{Transcode: 18707, Timestamp: 300, MessageLength: 86}, SecurityToken: 11, BuyBBMMFlag: "B"},
		},
	}
	if err := s.InsertSnapshots(ctx, ca); err != nil {
		t.Fatalf("call auction batch: %v", err)
	}
	if n := countRows(t, s, "cm_call_auction_snapshot"); n != 1 {
		t.Errorf("cm_call_auction_snapshot rows = %d, want 1", n)
	}

	if err := s.InsertSnapshots(ctx, domain.Batch{Kind: "bogus"}); err == nil {
		t.Error("unknown kind should fail")
	} else if !domain.IsPersistence(err) {
		t.Errorf("unknown kind error = %v, want persistence", err)
	}
}

func TestUpsertSecuritiesReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := []domain.SecurityMaster{
		{TokenNumber: 22, Symbol: "ACC", Series: "EQ", SettlementCycle: 2, CompanyName: "ACC LIMITED", PermittedToTrade: 1},
		{TokenNumber: 25, Symbol: "ADANIENT", Series: "EQ", SettlementCycle: 2, CompanyName: "ADANI ENTERPRISES", PermittedToTrade: 1},
	}
	if err := s.UpsertSecurities(ctx, first, "2025-07-08"); err != nil {
		t.Fatalf("UpsertSecurities: %v", err)
	}

	second := []domain.SecurityMaster{
		{TokenNumber: 22, Symbol: "ACC", Series: "BE", SettlementCycle: 1, CompanyName: "ACC LIMITED", PermittedToTrade: 0},
	}
	if err := s.UpsertSecurities(ctx, second, "2025-07-09"); err != nil {
		t.Fatalf("UpsertSecurities again: %v", err)
	}

	if n := countRows(t, s, "cm_token_master"); n != 2 {
		t.Errorf("cm_token_master rows = %d, want 2", n)
	}

	var series, updated string
	var permitted int
	err := s.db.QueryRow(`SELECT series, permitted_to_trade, last_updated FROM cm_token_master WHERE token_number = 22`).
		Scan(&series, &permitted, &updated)
	if err != nil {
		t.Fatalf("reading token 22: %v", err)
	}
	if series != "BE" || permitted != 0 || updated != "2025-07-09" {
		t.Errorf("token 22 = (%s, %d, %s), want (BE, 0, 2025-07-09)", series, permitted, updated)
	}
}

func TestInsertBhavcopyIgnoresDuplicates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := []domain.BhavcopyRow{
		{Symbol: "ACC", Series: "EQ", Open: "1850.00", Close: "1861.50", BusinessTimestamp: 1751913000},
		{Symbol: "INFY", Series: "EQ", Open: "1620.00", Close: "1615.25", BusinessTimestamp: 1751913000},
	}
	if err := s.InsertBhavcopy(ctx, rows); err != nil {
		t.Fatalf("InsertBhavcopy: %v", err)
	}

	// Same key again with different values: first write wins.
	dup := []domain.BhavcopyRow{
		{Symbol: "ACC", Series: "EQ", Open: "9999.99", Close: "9999.99", BusinessTimestamp: 1751913000},
		{Symbol: "ACC", Series: "EQ", Open: "1850.00", Close: "1861.50", BusinessTimestamp: 1751999400},
	}
	if err := s.InsertBhavcopy(ctx, dup); err != nil {
		t.Fatalf("InsertBhavcopy duplicates: %v", err)
	}

	if n := countRows(t, s, "bhavcopy"); n != 3 {
		t.Errorf("bhavcopy rows = %d, want 3", n)
	}

	var open string
	err := s.db.QueryRow(`SELECT open FROM bhavcopy WHERE symbol = 'ACC' AND business_timestamp = 1751913000`).Scan(&open)
	if err != nil || open != "1850.00" {
		t.Errorf("duplicate key open = %q err=%v, want original 1850.00", open, err)
	}
}

func TestLedger(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const p = "/CM30/DATA/July082025/1100.mkt.gz"

	seen, err := s.Seen(ctx, p)
	if err != nil || seen {
		t.Fatalf("Seen before Mark = (%v, %v), want (false, nil)", seen, err)
	}

	if err := s.Mark(ctx, p); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := s.Mark(ctx, p); err != nil {
		t.Fatalf("Mark twice should be a no-op: %v", err)
	}

	seen, err = s.Seen(ctx, p)
	if err != nil || !seen {
		t.Errorf("Seen after Mark = (%v, %v), want (true, nil)", seen, err)
	}

	if err := s.Mark(ctx, "/CM30/DATA/July082025/1101.ind.gz"); err != nil {
		t.Fatalf("Mark second path: %v", err)
	}
	paths, err := s.LoadProcessed(ctx)
	if err != nil {
		t.Fatalf("LoadProcessed: %v", err)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != p {
		t.Errorf("LoadProcessed = %v, want two paths starting with %s", paths, p)
	}
}
