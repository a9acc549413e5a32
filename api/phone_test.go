package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+7 (900) 111-22-33", "79001112233"},
		{"89001112233", "79001112233"}, // leading 8 becomes country code 7
		{"79001112233", "79001112233"},
		{"8 900 111 22 33", "79001112233"},
		{"whatsapp:+79001112233", "79001112233"},
		{"812345", "812345"}, // too short for the 8-to-7 rule
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKey(tt.in), "input %q", tt.in)
	}
}

func TestValidateKey(t *testing.T) {
	assert.True(t, ValidateKey("79001112233"))
	assert.True(t, ValidateKey("1234567890"))
	assert.False(t, ValidateKey("123456789"))        // too short
	assert.False(t, ValidateKey("1234567890123456")) // too long
	assert.False(t, ValidateKey("79001112a33"))
	assert.False(t, ValidateKey(""))
}

func TestStripMarkdown(t *testing.T) {
	assert.Equal(t, "Yes, we have it!", stripMarkdown("**Yes**, we have it!"))
	assert.Equal(t, "code and heading", stripMarkdown("`code` and #heading"))
	assert.Equal(t, "plain text", stripMarkdown("plain text"))
}
