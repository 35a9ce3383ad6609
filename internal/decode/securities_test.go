package decode

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// securityRecord builds one transcode-7 record with a 113-byte payload.
func securityRecord(token uint32, symbol, series, company string, settlement, permitted uint16, capital float64) []byte {
	payload := make([]byte, 113)
	binary.LittleEndian.PutUint32(payload[0:4], token)
	copy(payload[4:14], symbol)
	copy(payload[14:16], series)
	binary.LittleEndian.PutUint64(payload[16:24], math.Float64bits(capital))
	binary.LittleEndian.PutUint16(payload[24:26], settlement)
	copy(payload[50:], company)
	binary.LittleEndian.PutUint16(payload[111:113], permitted)

	var buf bytes.Buffer
	le(&buf, uint16(7))
	le(&buf, uint32(1720000000))
	le(&buf, uint16(len(payload)+8))
	buf.Write(payload)
	return buf.Bytes()
}

// otherRecord builds a record of a different transcode that must be skipped
// by its declared length.
func otherRecord(transcode uint16, payloadLen int) []byte {
	var buf bytes.Buffer
	le(&buf, transcode)
	le(&buf, uint32(1720000000))
	le(&buf, uint16(payloadLen+8))
	buf.Write(make([]byte, payloadLen))
	return buf.Bytes()
}

func TestSecuritiesDecode(t *testing.T) {
	var stream []byte
	stream = append(stream, otherRecord(1, 30)...)
	stream = append(stream, securityRecord(13, "ABB", "EQ", "ABB INDIA LIMITED", 1, 1, 1234.5)...)
	stream = append(stream, securityRecord(22, "NSETEST1", "EQ", "TEST SYMBOL", 1, 1, 0)...)
	stream = append(stream, securityRecord(99, "RELIANCE", "EQ", "RELIANCE INDUSTRIES", 0, 2, 9e9)...)

	secs := testDecoder().Securities(stream)
	if len(secs) != 2 {
		t.Fatalf("decoded %d securities, want 2 (test symbol and non-7 record skipped)", len(secs))
	}

	abb := secs[0]
	if abb.TokenNumber != 13 || abb.Symbol != "ABB" || abb.Series != "EQ" {
		t.Errorf("identity fields = %+v", abb)
	}
	if abb.IssuedCapital != 1234.5 {
		t.Errorf("issued_capital = %v, want 1234.5", abb.IssuedCapital)
	}
	if abb.SettlementCycle != 1 || abb.PermittedToTrade != 1 {
		t.Errorf("cycle/permitted = %d/%d", abb.SettlementCycle, abb.PermittedToTrade)
	}
	if abb.CompanyName != "ABB INDIA LIMITED" {
		t.Errorf("company_name = %q", abb.CompanyName)
	}

	rel := secs[1]
	if rel.TokenNumber != 99 || rel.PermittedToTrade != 2 || rel.SettlementCycle != 0 {
		t.Errorf("second record = %+v", rel)
	}
}

func TestSecuritiesDeclaredLengthPastEnd(t *testing.T) {
	good := securityRecord(13, "ABB", "EQ", "ABB INDIA LIMITED", 1, 1, 0)

	// A record whose declared length exceeds the remaining bytes stops the
	// walk cleanly after the records before it.
	var truncated bytes.Buffer
	le(&truncated, uint16(7))
	le(&truncated, uint32(1720000000))
	le(&truncated, uint16(121)) // declares 113 payload bytes...
	truncated.Write(make([]byte, 40))

	stream := append(append([]byte{}, good...), truncated.Bytes()...)
	secs := testDecoder().Securities(stream)
	if len(secs) != 1 {
		t.Fatalf("decoded %d securities, want 1", len(secs))
	}
}

func TestSecuritiesShortPayloadDefaults(t *testing.T) {
	// A 20-byte payload predates the issued-capital field: later fields are
	// absent and permitted_to_trade defaults to 1.
	payload := make([]byte, 20)
	binary.LittleEndian.PutUint32(payload[0:4], 77)
	copy(payload[4:14], "OLDSYM")
	copy(payload[14:16], "BE")

	var buf bytes.Buffer
	le(&buf, uint16(7))
	le(&buf, uint32(1720000000))
	le(&buf, uint16(len(payload)+8))
	buf.Write(payload)

	secs := testDecoder().Securities(buf.Bytes())
	if len(secs) != 1 {
		t.Fatalf("decoded %d securities, want 1", len(secs))
	}
	s := secs[0]
	if s.TokenNumber != 77 || s.Symbol != "OLDSYM" || s.Series != "BE" {
		t.Errorf("identity fields = %+v", s)
	}
	if s.IssuedCapital != 0 || s.SettlementCycle != 0 || s.PermittedToTrade != 1 {
		t.Errorf("absent fields not defaulted: %+v", s)
	}
}

func TestSecuritiesEmpty(t *testing.T) {
	if secs := testDecoder().Securities(nil); len(secs) != 0 {
		t.Errorf("empty stream decoded %d securities", len(secs))
	}
}
