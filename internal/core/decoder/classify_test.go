package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/igmpmon/internal/core"
)

func TestClassifyIGMPVersion(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    core.IGMPVersion
	}{
		// Membership query 0x11 is disambiguated by length and max response code
		{"query len 8 code 0", pad([]byte{0x11, 0x00}, 8), core.IGMPVersion1},
		{"query len 8 code 5", pad([]byte{0x11, 0x05}, 8), core.IGMPVersion2},
		{"query len 12", pad([]byte{0x11, 0x64}, 12), core.IGMPVersion3},
		{"query len 12 code 0", pad([]byte{0x11, 0x00}, 12), core.IGMPVersion3},
		{"query len 20", pad([]byte{0x11, 0x64}, 20), core.IGMPVersion3},
		{"query len 10", pad([]byte{0x11, 0x00}, 10), core.IGMPVersionUnknown},
		{"query len 9", pad([]byte{0x11, 0x05}, 9), core.IGMPVersionUnknown},
		{"query len 4", pad([]byte{0x11, 0x00}, 4), core.IGMPVersionUnknown},
		{"query len 1", []byte{0x11}, core.IGMPVersionUnknown},

		{"v1 report", pad([]byte{0x12}, 8), core.IGMPVersion1},
		{"v2 report", pad([]byte{0x16}, 8), core.IGMPVersion2},
		{"v2 leave", pad([]byte{0x17}, 8), core.IGMPVersion2},
		{"v3 report", pad([]byte{0x22}, 8), core.IGMPVersion3},

		{"mtrace response", pad([]byte{0x1E}, 8), core.IGMPVersionUnknown},
		{"mtrace", pad([]byte{0x1F}, 8), core.IGMPVersionUnknown},
		{"type 0x00", pad(nil, 8), core.IGMPVersionUnknown},
		{"type 0x09", pad([]byte{0x09}, 16), core.IGMPVersionUnknown},
		{"type 0xFF", pad([]byte{0xFF}, 8), core.IGMPVersionUnknown},
	}

	for v0 := byte(0x01); v0 <= 0x08; v0++ {
		tests = append(tests, struct {
			name    string
			payload []byte
			want    core.IGMPVersion
		}{core.IGMPMessageType(v0).String(), pad([]byte{v0}, 16), core.IGMPVersion0})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyIGMPVersion(tt.payload, len(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyIGMPVersionLengthBounds(t *testing.T) {
	payload := pad([]byte{0x11, 0x05}, 12)

	assert.Equal(t, core.IGMPVersionUnknown, ClassifyIGMPVersion(nil, 0))
	assert.Equal(t, core.IGMPVersionUnknown, ClassifyIGMPVersion(payload, 0))
	assert.Equal(t, core.IGMPVersionUnknown, ClassifyIGMPVersion(payload, -1))
	assert.Equal(t, core.IGMPVersionUnknown, ClassifyIGMPVersion(payload, 13))

	// Only the first length bytes count, not the capacity of the slice
	assert.Equal(t, core.IGMPVersion2, ClassifyIGMPVersion(payload, 8))
	assert.Equal(t, core.IGMPVersion3, ClassifyIGMPVersion(payload, 12))
}

func TestClassifyIGMPVersionDeterministic(t *testing.T) {
	payload := pad([]byte{0x11, 0x05}, 8)
	first := ClassifyIGMPVersion(payload, len(payload))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyIGMPVersion(payload, len(payload)))
	}
}

// pad returns prefix extended with zeros to n bytes.
func pad(prefix []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, prefix)
	return out
}
