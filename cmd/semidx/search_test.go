package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short stays intact", "hello", 10, "hello"},
		{"exact length stays intact", "hello", 5, "hello"},
		{"long ascii is cut", "hello world", 8, "hello..."},
		{"multi-byte runes are not split", "ログインボタンが押せない", 8, "ログインボ..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestTruncate_LongMultiByteStaysValid(t *testing.T) {
	s := strings.Repeat("テスト", 100)
	got := truncate(s, 120)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 120, utf8.RuneCountInString(got))
}
