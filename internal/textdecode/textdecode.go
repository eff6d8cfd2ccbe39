// Package textdecode turns uploaded bytes into text using a fixed chain of
// candidate encodings.
package textdecode

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Encoding names reported by Decode.
const (
	UTF8    = "utf-8"
	UTF8BOM = "utf-8-sig"
	Latin1  = "latin-1"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

type candidate struct {
	name   string
	decode func([]byte) (string, bool)
}

var chain = []candidate{
	{UTF8BOM, func(b []byte) (string, bool) {
		if !bytes.HasPrefix(b, bom) || !utf8.Valid(b[len(bom):]) {
			return "", false
		}
		return string(b[len(bom):]), true
	}},
	{UTF8, func(b []byte) (string, bool) {
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}},
}

// Latin-1 maps every byte to a rune, so it terminates the chain. Later
// candidates such as CP1252 or lossy UTF-8 could never be reached.
var latin1 = charmap.ISO8859_1

// Decode returns the text of b and the name of the encoding that produced
// it. It never fails.
func Decode(b []byte) (string, string) {
	for _, c := range chain {
		if s, ok := c.decode(b); ok {
			return s, c.name
		}
	}
	return decodeCharmap(latin1, b), Latin1
}

func decodeCharmap(enc encoding.Encoding, b []byte) string {
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		// unreachable for single-byte charmaps
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}
