package decode

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"nsefeed/internal/domain"
	"nsefeed/internal/util"
)

// BhavcopyDate extracts the business date from a bhavcopy file name of the
// form CMBhavcopy_DDMMYYYY.txt. The date is anchored to midnight in the
// exchange time zone.
func BhavcopyDate(name string) (time.Time, error) {
	base := path.Base(name)
	token := strings.TrimSuffix(strings.TrimPrefix(base, "CMBhavcopy_"), ".txt")
	if token == base {
		return time.Time{}, fmt.Errorf("bhavcopy: unexpected file name %q", base)
	}
	t, err := time.ParseInLocation("02012006", token, util.ExchangeLocation())
	if err != nil {
		return time.Time{}, fmt.Errorf("bhavcopy: date in %q: %w", base, err)
	}
	return t, nil
}

// Bhavcopy decodes the daily bhavcopy text file. Lines are whitespace
// separated: 9 tokens carry a series in position two, 8 tokens carry none,
// any other arity is dropped. Numeric columns are carried as their raw
// tokens; a token that fails numeric validation is still kept (best-effort),
// the row is not dropped.
func (d *Decoder) Bhavcopy(name string, data []byte) ([]domain.BhavcopyRow, error) {
	businessDate, err := BhavcopyDate(name)
	if err != nil {
		return nil, domain.Decode(name, err)
	}
	businessTS := businessDate.Unix()

	var rows []domain.BhavcopyRow
	dropped := 0

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		tokens := strings.Fields(sc.Text())

		var symbol, series string
		var rest []string
		switch len(tokens) {
		case 8:
			symbol, rest = tokens[0], tokens[1:]
		case 9:
			symbol, series, rest = tokens[0], tokens[1], tokens[2:]
		default:
			if len(tokens) > 0 {
				dropped++
			}
			continue
		}

		rows = append(rows, domain.BhavcopyRow{
			Symbol:              symbol,
			Series:              series,
			TradeHigh:           rest[0],
			TradeLow:            rest[1],
			Open:                rest[2],
			Close:               rest[3],
			PreviousClose:       rest[4],
			TotalTradedQuantity: rest[5],
			TotalTradedValue:    rest[6],
			BusinessTimestamp:   businessTS,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, domain.Decode(name, err)
	}

	if dropped > 0 {
		d.log.Warn("bhavcopy lines with unexpected arity dropped",
			"remote_path", name, "dropped", dropped)
	}
	return rows, nil
}
