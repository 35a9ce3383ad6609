// Package domain defines the decoded record families published by the NSE
// Capital Market snapshot feed, the batch type flowing between the decoders,
// the store, and the subscriber bus, and the error kinds used at component
// boundaries.
//
// All monetary values are integers in hundredths of a rupee (two implicit
// decimal places). They are stored and forwarded raw; division by 100 is a
// presentation concern and never happens here.
package domain

import "encoding/json"

// Kind identifies a decoded record family.
type Kind string

const (
	KindMarket      Kind = "MKT"
	KindIndex       Kind = "IND"
	KindCallAuction Kind = "CA2"
	KindSecurities  Kind = "SECURITIES"
	KindBhavcopy    Kind = "BHAVCOPY"
)

// Header is the fixed 8-byte prefix on every snapshot record: record family
// tag, exchange wall-clock timestamp, and total record length.
type Header struct {
	Transcode     uint16 `json:"transcode"`
	Timestamp     uint32 `json:"timestamp"`
	MessageLength uint16 `json:"message_length"`
}

// MarketSnapshot is one record from a .mkt.gz file (96 bytes on the wire).
// Logically keyed by (security_token, timestamp).
type MarketSnapshot struct {
	Header
	SecurityToken               uint32 `json:"security_token"`
	LastTradedPrice             uint32 `json:"last_traded_price"`
	BestBuyQuantity             uint64 `json:"best_buy_quantity"`
	BestBuyPrice                uint32 `json:"best_buy_price"`
	BestSellQuantity            uint64 `json:"best_sell_quantity"`
	BestSellPrice               uint32 `json:"best_sell_price"`
	TotalTradedQuantity         uint64 `json:"total_traded_quantity"`
	AverageTradedPrice          uint32 `json:"average_traded_price"`
	OpenPrice                   uint32 `json:"open_price"`
	HighPrice                   uint32 `json:"high_price"`
	LowPrice                    uint32 `json:"low_price"`
	ClosePrice                  uint32 `json:"close_price"`
	IntervalOpenPrice           uint32 `json:"interval_open_price"`
	IntervalHighPrice           uint32 `json:"interval_high_price"`
	IntervalLowPrice            uint32 `json:"interval_low_price"`
	IntervalClosePrice          uint32 `json:"interval_close_price"`
	IntervalTotalTradedQuantity uint64 `json:"interval_total_traded_quantity"`
	IndicativeClosePrice        uint32 `json:"indicative_close_price"`
}

// IndexSnapshot is one record from an .ind.gz file (52 bytes on the wire).
// Logically keyed by (index_token, timestamp).
type IndexSnapshot struct {
	Header
	IndexToken                uint32 `json:"index_token"`
	OpenIndexValue            uint32 `json:"open_index_value"`
	CurrentIndexValue         uint32 `json:"current_index_value"`
	HighIndexValue            uint32 `json:"high_index_value"`
	LowIndexValue             uint32 `json:"low_index_value"`
	PercentageChange          uint32 `json:"percentage_change"`
	IntervalOpenIndexValue    uint32 `json:"interval_open_index_value"`
	IntervalHighIndexValue    uint32 `json:"interval_high_index_value"`
	IntervalLowIndexValue     uint32 `json:"interval_low_index_value"`
	IntervalCloseIndexValue   uint32 `json:"interval_close_index_value"`
	IndicativeCloseIndexValue uint32 `json:"indicative_close_index_value"`
}

// CallAuctionSnapshot is one record from a .ca2.gz file (86 bytes on the
// wire). The pre-open/post-close auction variant of MarketSnapshot: no
// interval fields, best-buy/sell-market-maker flags, indicative quantity,
// and the first matched open price.
type CallAuctionSnapshot struct {
	Header
	SecurityToken             uint32 `json:"security_token"`
	LastTradedPrice           uint32 `json:"last_traded_price"`
	BestBuyQuantity           uint64 `json:"best_buy_quantity"`
	BestBuyPrice              uint32 `json:"best_buy_price"`
	BuyBBMMFlag               string `json:"buy_bbmm_flag"`
	BestSellQuantity          uint64 `json:"best_sell_quantity"`
	BestSellPrice             uint32 `json:"best_sell_price"`
	SellBBMMFlag              string `json:"sell_bbmm_flag"`
	TotalTradedQuantity       uint64 `json:"total_traded_quantity"`
	IndicativeTradedQuantity  uint64 `json:"indicative_traded_quantity"`
	AverageTradedPrice        uint32 `json:"average_traded_price"`
	FirstOpenPrice            uint32 `json:"first_open_price"`
	OpenPrice                 uint32 `json:"open_price"`
	HighPrice                 uint32 `json:"high_price"`
	LowPrice                  uint32 `json:"low_price"`
	ClosePrice                uint32 `json:"close_price"`
	IndicativeClosePrice      uint32 `json:"indicative_close_price"`
}

// SecurityMaster is one transcode-7 record from Securities.dat, keyed by
// token number. LastUpdated is the ISO date the record was observed; it is
// set by the store at upsert time, not by the decoder.
type SecurityMaster struct {
	TokenNumber      uint32  `json:"token_number"`
	Symbol           string  `json:"symbol"`
	Series           string  `json:"series"`
	IssuedCapital    float64 `json:"issued_capital"`
	SettlementCycle  uint16  `json:"settlement_cycle"`
	CompanyName      string  `json:"company_name"`
	PermittedToTrade uint16  `json:"permitted_to_trade"`
	LastUpdated      string  `json:"last_updated"`
}

// SettlementCycleDesc returns the human-readable settlement cycle.
func (s SecurityMaster) SettlementCycleDesc() string {
	switch s.SettlementCycle {
	case 0:
		return "T+0"
	case 1:
		return "T+1"
	}
	return "Unknown"
}

// PermittedToTradeDesc returns the human-readable trade-permission state.
func (s SecurityMaster) PermittedToTradeDesc() string {
	switch s.PermittedToTrade {
	case 0:
		return "Listed but not permitted to trade"
	case 1:
		return "Permitted to trade"
	case 2:
		return "BSE listed (BSE exclusive security)"
	}
	return "Unknown"
}

// BhavcopyRow is one line of the daily CMBhavcopy text file. Numeric columns
// are kept as the raw whitespace-separated tokens: a token that fails to
// parse as a number is stored unchanged rather than dropping the row.
// BusinessTimestamp is the trade date from the filename, as Unix seconds.
type BhavcopyRow struct {
	Symbol              string `json:"symbol"`
	Series              string `json:"series"`
	TradeHigh           string `json:"trade_high"`
	TradeLow            string `json:"trade_low"`
	Open                string `json:"open"`
	Close               string `json:"close"`
	PreviousClose       string `json:"previous_close"`
	TotalTradedQuantity string `json:"total_traded_quantity"`
	TotalTradedValue    string `json:"total_traded_value"`
	BusinessTimestamp   int64  `json:"business_timestamp"`
}

// ---------------------------------------------------------------------------
// Batch
// ---------------------------------------------------------------------------

// Batch is the unit flowing from the decoders to the store and the bus: all
// records decoded from one remote file, tagged with their kind. Exactly one
// of the record slices is populated.
type Batch struct {
	Kind        Kind
	Market      []MarketSnapshot
	Index       []IndexSnapshot
	CallAuction []CallAuctionSnapshot
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	switch b.Kind {
	case KindMarket:
		return len(b.Market)
	case KindIndex:
		return len(b.Index)
	case KindCallAuction:
		return len(b.CallAuction)
	}
	return 0
}

// MarshalJSON encodes the batch as a flat JSON array of record objects,
// which is the subscriber wire format.
func (b Batch) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case KindMarket:
		return json.Marshal(b.Market)
	case KindIndex:
		return json.Marshal(b.Index)
	case KindCallAuction:
		return json.Marshal(b.CallAuction)
	}
	return []byte("[]"), nil
}
