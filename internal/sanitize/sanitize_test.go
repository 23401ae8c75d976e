package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Big SALE today", "Big SALE today"},
		{"strips tags", "<b>Big SALE</b> today", "Big SALE today"},
		{"decodes entities", "Save &amp; Smile", "Save & Smile"},
		{"strips control chars", "Big\x00SALE", "BigSALE"},
		{"trims whitespace", "  Big SALE  ", "Big SALE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hel", Truncate("hello", 3))
	assert.Equal(t, "", Truncate("hello", 0))
}

func TestASCIILower(t *testing.T) {
	assert.Equal(t, "big sale", ASCIILower("BIG SALE"))
	assert.Equal(t, "cafÉ", ASCIILower("CAFÉ"))
}
