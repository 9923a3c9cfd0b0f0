package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	escapeByte byte = 0x00
	escapedNul byte = 0xFF
)

func appendMemComparableUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendMemComparableFloat64(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // -0 sorts and hashes as 0
	}
	u := math.Float64bits(f)
	if f >= 0 {
		u |= 0x8000000000000000
	} else {
		u = ^u
	}
	return appendMemComparableUint64(buf, u)
}

func readMemComparableFloat64(data []byte) (float64, int, error) {
	if len(data) < 8 {
		return 0, 0, fmt.Errorf("codec: short float64")
	}
	u := binary.BigEndian.Uint64(data[:8])
	if u&0x8000000000000000 != 0 {
		u &^= 0x8000000000000000
	} else {
		u = ^u
	}
	return math.Float64frombits(u), 8, nil
}

// appendMemComparableString escapes 0x00 as 0x00 0xFF and terminates with
// 0x00 0x00, so byte order of the output matches byte order of the inputs.
func appendMemComparableString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		buf = append(buf, s[i])
		if s[i] == escapeByte {
			buf = append(buf, escapedNul)
		}
	}
	return append(buf, escapeByte, escapeByte)
}

func readMemComparableString(data []byte) (string, int, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != escapeByte {
			out = append(out, data[i])
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case escapeByte:
			return string(out), i + 2, nil
		case escapedNul:
			out = append(out, escapeByte)
			i++
		default:
			return "", 0, fmt.Errorf("codec: bad escape 0x%02x", data[i+1])
		}
	}
	return "", 0, fmt.Errorf("codec: unterminated string")
}
