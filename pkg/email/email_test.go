package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ana@example.com", Normalize("  Ana@Example.COM "))
}

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"regular", "ana.lee@example.com", "a***@example.com"},
		{"multibyte first rune", "élise@example.fr", "é***@example.fr"},
		{"no at sign", "not-an-address", "***"},
		{"empty local part", "@example.com", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.in))
		})
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "***00", MaskPhone("+15550100"))
	assert.Equal(t, "***", MaskPhone("7"))
}
