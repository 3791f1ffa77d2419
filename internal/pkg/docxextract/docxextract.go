package docxextract

import (
	"io"
	"strings"

	"github.com/fumiama/go-docx"
)

// ExtractText parses a Word (OOXML) document and flattens its body to plain
// text, one line per top-level paragraph or table. Legacy binary .doc files
// are not OOXML containers and fail here with a parse error.
func ExtractText(r io.ReaderAt, size int64) (string, error) {
	doc, err := docx.Parse(r, size)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch v := item.(type) {
		case *docx.Paragraph:
			b.WriteString(v.String())
			b.WriteByte('\n')
		case *docx.Table:
			b.WriteString(v.String())
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
