package interceptor

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/discoverly/edgeschema/internal/schema"
)

var errNoHead = errors.New("document has no closing head tag")

var headClose = []byte("</head>")

// InjectJSONLD inserts a single JSON-LD script element immediately before the
// document's closing head tag. Every other byte of the document is preserved.
func InjectJSONLD(body []byte, doc schema.JSONLD) ([]byte, error) {
	payload, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode json-ld: %w", err)
	}
	idx := indexCloseHead(body)
	if idx < 0 {
		return nil, errNoHead
	}
	var out bytes.Buffer
	out.Grow(len(body) + len(payload) + 64)
	out.Write(body[:idx])
	out.WriteString(`<script type="application/ld+json">`)
	out.Write(payload)
	out.WriteString(`</script>`)
	out.Write(body[idx:])
	return out.Bytes(), nil
}

// indexCloseHead finds the first closing head tag. Tag names are ASCII, so
// the comparison folds ASCII case byte by byte; lowercasing the whole
// document would shift offsets for characters whose lowercase form has a
// different byte length.
func indexCloseHead(body []byte) int {
	for i := 0; i+len(headClose) <= len(body); i++ {
		if foldEqual(body[i:i+len(headClose)], headClose) {
			return i
		}
	}
	return -1
}

func foldEqual(b, pat []byte) bool {
	for i, p := range pat {
		c := b[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != p {
			return false
		}
	}
	return true
}
