package decode

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"nsefeed/internal/domain"
)

// securityTranscode tags security-information records in Securities.dat.
const securityTranscode = 7

// Payloads of at least this length carry the permitted-to-trade field at the
// tail (format revision 1.24). Shorter revisions end before it.
const securityV124PayloadLen = 113

// Securities walks a Securities.dat byte stream and returns every decoded
// security-information record. The file is plain (not gzip): a sequence of
// length-declared records whose 8-byte headers tag the record family.
// Records that are not transcode 7 are skipped by their declared length; a
// declared length past the end of the stream stops the walk cleanly.
// Exchange test symbols (NSETEST prefix) are dropped.
func (d *Decoder) Securities(data []byte) []domain.SecurityMaster {
	var records []domain.SecurityMaster

	off := 0
	for off+headerSize <= len(data) {
		h := header(data[off : off+headerSize])
		if int(h.MessageLength) < headerSize {
			// Malformed length would never advance; stop.
			break
		}
		payloadLen := int(h.MessageLength) - headerSize
		if off+headerSize+payloadLen > len(data) {
			break
		}

		if h.Transcode == securityTranscode {
			payload := data[off+headerSize : off+headerSize+payloadLen]
			if sec, ok := parseSecurity(payload); ok &&
				!strings.HasPrefix(strings.ToUpper(sec.Symbol), "NSETEST") {
				records = append(records, sec)
			}
		}

		off += headerSize + payloadLen
	}

	return records
}

// parseSecurity extracts one SecurityMaster from a length-declared payload.
// Fields are read at fixed offsets, but only when the payload reaches them:
// format revisions shorter than 1.24 simply lack the later fields.
func parseSecurity(p []byte) (domain.SecurityMaster, bool) {
	if len(p) < 4 {
		return domain.SecurityMaster{}, false
	}

	sec := domain.SecurityMaster{
		TokenNumber:      binary.LittleEndian.Uint32(p[0:4]),
		PermittedToTrade: 1,
	}

	if len(p) >= 14 {
		sec.Symbol = asciiField(p[4:14])
	} else {
		sec.Symbol = asciiField(p[4:])
	}
	if len(p) >= 16 {
		sec.Series = asciiField(p[14:16])
	}
	if len(p) >= 24 {
		sec.IssuedCapital = math.Float64frombits(binary.LittleEndian.Uint64(p[16:24]))
	}
	if len(p) >= 26 {
		sec.SettlementCycle = binary.LittleEndian.Uint16(p[24:26])
	}

	sec.CompanyName = companyName(p)

	if len(p) >= securityV124PayloadLen {
		sec.PermittedToTrade = binary.LittleEndian.Uint16(p[len(p)-2:])
	}

	return sec, true
}

// companyName finds the longest printable run among the 25-byte windows in
// payload offsets [40, 80). The field's exact offset drifted across format
// revisions, so it is located rather than assumed.
func companyName(p []byte) string {
	best := ""
	for start := 40; start < 80 && start < len(p); start++ {
		end := start + 25
		if end > len(p) {
			end = len(p)
		}
		candidate := asciiField(p[start:end])
		if len(candidate) > len(best) && printable(candidate) {
			best = candidate
		}
	}
	return best
}

// asciiField decodes a fixed-width ASCII field, right-stripping NULs.
func asciiField(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

func printable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
