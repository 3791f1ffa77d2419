// Package textsanitize repairs text lifted out of PDF and Word containers.
// Extraction libraries routinely emit embedded nulls and broken UTF-8 that
// would otherwise corrupt JSON transport and database storage downstream.
package textsanitize

import "strings"

// Sanitize returns a best-effort printable copy of raw: null bytes removed,
// invalid UTF-8 sequences dropped, and control characters stripped except
// newline and tab. It never fails on arbitrary input and is idempotent.
func Sanitize(raw string) string {
	s := strings.ToValidUTF8(raw, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
