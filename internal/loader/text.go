package loader

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readText(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return decodeText(data)
}

// decodeText returns data as UTF-8 along with the name of the source
// encoding. Valid UTF-8 wins; otherwise chardet picks the charset and
// Latin-1 is the last resort, since every byte sequence decodes under it.
func decodeText(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), "UTF-8", nil
	}

	name := "ISO-8859-1"
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res != nil {
		name = res.Charset
	}
	enc := encodingFor(name)
	if enc == nil {
		name, enc = "ISO-8859-1", charmap.ISO8859_1
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", name, err)
	}
	return normalizeNewlines(string(out)), name, nil
}

func encodingFor(charset string) encoding.Encoding {
	switch strings.ToUpper(charset) {
	case "ISO-8859-1":
		return charmap.ISO8859_1
	case "ISO-8859-15":
		return charmap.ISO8859_15
	case "WINDOWS-1252":
		return charmap.Windows1252
	case "UTF-16LE":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case "UTF-16BE":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	default:
		return nil
	}
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
