// Package utils holds small helpers shared across handlers and services.
package utils

import (
	"encoding/base64"
	"strconv"
)

// EncodeCursor renders a sequence number as an opaque pagination cursor.
func EncodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty or
// malformed cursor decodes to 0, which callers treat as "from the top".
func DecodeCursor(cursor string) int64 {
	if cursor == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// AtoiDefault parses s as an int, falling back to def on empty or invalid
// input.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
