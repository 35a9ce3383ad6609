// Package decode implements the binary decoders for the NSE Capital Market
// snapshot families (.mkt.gz, .ind.gz, .ca2.gz), the Securities.dat master,
// and the daily bhavcopy text file.
//
// All multi-byte integers on the wire are little-endian. Snapshot record
// sizes are pinned by the exchange format revision; a decompressed stream
// whose length is not a multiple of the record size is truncated to the
// largest whole multiple and logged, never guessed at.
package decode

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"nsefeed/internal/domain"
)

const (
	headerSize = 8

	marketRecordSize      = 96
	indexRecordSize       = 52
	callAuctionRecordSize = 86
)

// Interesting maps remote file suffixes to their record family. Paths with
// any other suffix are not snapshot files.
var suffixKinds = map[string]domain.Kind{
	".mkt.gz": domain.KindMarket,
	".ind.gz": domain.KindIndex,
	".ca2.gz": domain.KindCallAuction,
}

// KindForPath returns the snapshot kind for a remote path, matching on the
// lower-cased suffix. ok is false for uninteresting paths.
func KindForPath(path string) (kind domain.Kind, ok bool) {
	lower := strings.ToLower(path)
	for suffix, k := range suffixKinds {
		if strings.HasSuffix(lower, suffix) {
			return k, true
		}
	}
	return "", false
}

// Decoder decodes raw remote file bytes into record batches. The zero value
// is not usable; construct with New.
type Decoder struct {
	log *slog.Logger
}

// New creates a Decoder that reports truncation and skip warnings on log.
func New(log *slog.Logger) *Decoder {
	return &Decoder{log: log}
}

// Snapshot decompresses and decodes one snapshot file. The path selects the
// decoder; unknown suffixes are a decode error. An empty decompressed stream
// yields an empty batch, not an error.
func (d *Decoder) Snapshot(path string, raw []byte) (domain.Batch, error) {
	kind, ok := KindForPath(path)
	if !ok {
		return domain.Batch{}, domain.Decode(path, fmt.Errorf("unrecognized snapshot suffix"))
	}

	data, err := gunzip(raw)
	if err != nil {
		return domain.Batch{}, domain.Decode(path, err)
	}

	switch kind {
	case domain.KindMarket:
		return domain.Batch{Kind: kind, Market: d.markets(path, data)}, nil
	case domain.KindIndex:
		return domain.Batch{Kind: kind, Index: d.indexes(path, data)}, nil
	default:
		return domain.Batch{Kind: kind, CallAuction: d.callAuctions(path, data)}, nil
	}
}

// gunzip decompresses the whole blob in memory. Zero-length input is treated
// as an empty stream.
func gunzip(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return data, nil
}

// usable truncates data to a whole number of recordSize records, logging a
// warning when trailing bytes are dropped. Fewer bytes than one record is an
// empty (not erroneous) file.
func (d *Decoder) usable(path string, data []byte, recordSize int) []byte {
	if len(data) < recordSize {
		return nil
	}
	if rem := len(data) % recordSize; rem != 0 {
		d.log.Warn("snapshot length not a record multiple, truncating",
			"remote_path", path,
			"length", len(data),
			"record_size", recordSize,
			"dropped_bytes", rem)
		data = data[:len(data)-rem]
	}
	return data
}

func (d *Decoder) markets(path string, data []byte) []domain.MarketSnapshot {
	data = d.usable(path, data, marketRecordSize)
	records := make([]domain.MarketSnapshot, 0, len(data)/marketRecordSize)

	for off := 0; off+marketRecordSize <= len(data); off += marketRecordSize {
		rec := data[off : off+marketRecordSize]
		p := rec[headerSize:]
		records = append(records, domain.MarketSnapshot{
			Header:                      header(rec),
			SecurityToken:               u32(p, 0),
			LastTradedPrice:             u32(p, 4),
			BestBuyQuantity:             u64(p, 8),
			BestBuyPrice:                u32(p, 16),
			BestSellQuantity:            u64(p, 20),
			BestSellPrice:               u32(p, 28),
			TotalTradedQuantity:         u64(p, 32),
			AverageTradedPrice:          u32(p, 40),
			OpenPrice:                   u32(p, 44),
			HighPrice:                   u32(p, 48),
			LowPrice:                    u32(p, 52),
			ClosePrice:                  u32(p, 56),
			IntervalOpenPrice:           u32(p, 60),
			IntervalHighPrice:           u32(p, 64),
			IntervalLowPrice:            u32(p, 68),
			IntervalClosePrice:          u32(p, 72),
			IntervalTotalTradedQuantity: u64(p, 76),
			IndicativeClosePrice:        u32(p, 84),
		})
	}
	return records
}

func (d *Decoder) indexes(path string, data []byte) []domain.IndexSnapshot {
	data = d.usable(path, data, indexRecordSize)
	records := make([]domain.IndexSnapshot, 0, len(data)/indexRecordSize)

	for off := 0; off+indexRecordSize <= len(data); off += indexRecordSize {
		rec := data[off : off+indexRecordSize]
		p := rec[headerSize:]
		records = append(records, domain.IndexSnapshot{
			Header:                    header(rec),
			IndexToken:                u32(p, 0),
			OpenIndexValue:            u32(p, 4),
			CurrentIndexValue:         u32(p, 8),
			HighIndexValue:            u32(p, 12),
			LowIndexValue:             u32(p, 16),
			PercentageChange:          u32(p, 20),
			IntervalOpenIndexValue:    u32(p, 24),
			IntervalHighIndexValue:    u32(p, 28),
			IntervalLowIndexValue:     u32(p, 32),
			IntervalCloseIndexValue:   u32(p, 36),
			IndicativeCloseIndexValue: u32(p, 40),
		})
	}
	return records
}

func (d *Decoder) callAuctions(path string, data []byte) []domain.CallAuctionSnapshot {
	data = d.usable(path, data, callAuctionRecordSize)
	records := make([]domain.CallAuctionSnapshot, 0, len(data)/callAuctionRecordSize)

	for off := 0; off+callAuctionRecordSize <= len(data); off += callAuctionRecordSize {
		rec := data[off : off+callAuctionRecordSize]
		p := rec[headerSize:]
		records = append(records, domain.CallAuctionSnapshot{
			Header:                   header(rec),
			SecurityToken:            u32(p, 0),
			LastTradedPrice:          u32(p, 4),
			BestBuyQuantity:          u64(p, 8),
			BestBuyPrice:             u32(p, 16),
			BuyBBMMFlag:              flag(p[20]),
			BestSellQuantity:         u64(p, 21),
			BestSellPrice:            u32(p, 29),
			SellBBMMFlag:             flag(p[33]),
			TotalTradedQuantity:      u64(p, 34),
			IndicativeTradedQuantity: u64(p, 42),
			AverageTradedPrice:       u32(p, 50),
			FirstOpenPrice:           u32(p, 54),
			OpenPrice:                u32(p, 58),
			HighPrice:                u32(p, 62),
			LowPrice:                 u32(p, 66),
			ClosePrice:               u32(p, 70),
			IndicativeClosePrice:     u32(p, 74),
		})
	}
	return records
}

func header(rec []byte) domain.Header {
	return domain.Header{
		Transcode:     binary.LittleEndian.Uint16(rec[0:2]),
		Timestamp:     binary.LittleEndian.Uint32(rec[2:6]),
		MessageLength: binary.LittleEndian.Uint16(rec[6:8]),
	}
}

func u32(p []byte, off int) uint32 { return binary.LittleEndian.Uint32(p[off : off+4]) }
func u64(p []byte, off int) uint64 { return binary.LittleEndian.Uint64(p[off : off+8]) }

// flag renders a single ASCII flag byte; NUL and space mean unset.
func flag(b byte) string {
	if b == 0 || b == ' ' {
		return ""
	}
	return string(rune(b))
}
