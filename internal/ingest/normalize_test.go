package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMerchant(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"coffee shop", "COFFEE SHOP"},
		{"  Coffee   Shop  ", "COFFEE SHOP"},
		{"COFFEE SHOP #1234", "COFFEE SHOP"},
		{"COFFEE SHOP *99", "COFFEE SHOP"},
		{"GROCER 00012345 MAIN ST", "GROCER MAIN ST"},
		{"POS PURCHASE GROCER", "GROCER"},
		{"CHECKCARD PAYMENT AIRLINE", "AIRLINE"},
		{"SHOP 123", "SHOP 123"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeMerchant(tc.in), tc.in)
	}
}

func TestUsable(t *testing.T) {
	assert.True(t, Usable("ABC"))
	assert.False(t, Usable("AB"))
	assert.False(t, Usable(""))
}
