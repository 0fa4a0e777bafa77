// Package utils holds small helpers shared by the search tool clients.
package utils

import (
	"fmt"
	"strings"
)

// UrlQuery encodes a query for a URL query string in the plus-for-space
// form the search APIs expect.
func UrlQuery(q string) string {
	return strings.ReplaceAll(strings.TrimSpace(q), " ", "+")
}

// Str renders a decoded-JSON value as a string; nil becomes "".
func Str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
