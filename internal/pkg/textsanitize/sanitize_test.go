package textsanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "Name: Jane Doe\nSkills:\tGo, SQL",
			want: "Name: Jane Doe\nSkills:\tGo, SQL",
		},
		{
			name: "null bytes removed",
			in:   "Name: Jane\x00Doe",
			want: "Name: JaneDoe",
		},
		{
			name: "invalid utf8 dropped",
			in:   "caf\xc3\xa9 \xff\xfe broken",
			want: "café  broken",
		},
		{
			name: "control characters stripped",
			in:   "a\x01b\x08c\x0bd\x0ce\x7ff",
			want: "abcdef",
		},
		{
			name: "carriage returns stripped, newlines kept",
			in:   "line one\r\nline two",
			want: "line one\nline two",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"Name: Jane\x00Doe",
		"caf\xc3\xa9 \xff\xfe broken\x01\x02",
		"already clean\nwith\ttabs",
		"\x00\x01\x02\xff",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		assert.Equal(t, once, twice, "sanitize must be idempotent for %q", in)
	}
}

func TestSanitizeNeverLeavesDisallowedBytes(t *testing.T) {
	out := Sanitize("x\x00y\x1fz\xffw\x7f")
	for _, r := range out {
		if r < 0x20 && r != '\n' && r != '\t' {
			t.Fatalf("disallowed control character %q in output %q", r, out)
		}
		if r == 0x7F {
			t.Fatalf("DEL character in output %q", out)
		}
	}
}
