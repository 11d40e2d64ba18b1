package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/encoding/charmap"
)

// readPDF joins the text layer of every page with newlines. Scanned PDFs
// without a text layer come back empty.
func readPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}

	var pages []string
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		if text := textFromContentStream(data); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}

// textFromContentStream walks a page content stream and returns the string
// operands of the text-showing operators (Tj, TJ, ' and "). Line moves
// (T*, ET and Td/TD with a vertical offset) start a new line.
func textFromContentStream(data []byte) string {
	var (
		lines    []string
		cur      strings.Builder
		operands []string
		pending  []string
		inArray  bool
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	show := func() {
		for _, p := range pending {
			cur.WriteString(p)
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '(':
			lit, next := scanLiteral(data, i)
			pending = append(pending, decodePDFLiteral(lit))
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] != '<':
			// Hex strings carry glyph ids for composite fonts; skipped.
			end := bytes.IndexByte(data[i:], '>')
			if end < 0 {
				i = len(data)
			} else {
				i += end + 1
			}
		case c == '%':
			end := bytes.IndexAny(data[i:], "\r\n")
			if end < 0 {
				i = len(data)
			} else {
				i += end
			}
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case c != '/' && (isPDFDelimiter(c) || isPDFSpace(c)):
			i++
		default:
			j := i + 1
			for j < len(data) && !isPDFDelimiter(data[j]) && !isPDFSpace(data[j]) {
				j++
			}
			tok := string(data[i:j])
			i = j

			if c == '/' {
				continue
			}
			if n, err := strconv.ParseFloat(tok, 64); err == nil {
				// Large negative kerning inside TJ is a word gap.
				if inArray && n <= -200 && len(pending) > 0 {
					pending[len(pending)-1] += " "
				}
				operands = append(operands, tok)
				continue
			}

			switch tok {
			case "Tj", "TJ":
				show()
			case "'", "\"":
				flush()
				show()
			case "T*", "ET":
				flush()
			case "Td", "TD":
				if len(operands) >= 2 && isNonZero(operands[len(operands)-1]) {
					flush()
				} else {
					cur.WriteByte(' ')
				}
			}
			operands = operands[:0]
			pending = pending[:0]
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

// scanLiteral returns the body of the literal string opening at data[i] and
// the index just past its closing parenthesis. Balanced parentheses nest.
func scanLiteral(data []byte, i int) ([]byte, int) {
	depth := 0
	for j := i; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return data[i+1 : j], j + 1
			}
		}
	}
	return data[i+1:], len(data)
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNonZero(num string) bool {
	n, err := strconv.ParseFloat(num, 64)
	return err == nil && n != 0
}

// decodePDFLiteral resolves escape sequences and maps the bytes through
// WinAnsiEncoding, which is what simple fonts use for accented Latin text.
func decodePDFLiteral(raw []byte) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			out = append(out, c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b', 'f':
		case '\\', '(', ')':
			out = append(out, raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				out = append(out, raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			out = append(out, byte(val))
		}
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(out)
	if err != nil {
		return string(out)
	}
	return string(s)
}
