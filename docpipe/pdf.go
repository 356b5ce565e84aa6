package docpipe

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ExtractPDF reads a PDF and returns the text of every non-empty page with
// extraction quality metrics.
func ExtractPDF(rs io.ReadSeeker) (*Document, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	var pages []Page
	var all strings.Builder
	totalChars := 0
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		text := extractPageText(ctx, pageNr)
		if text == "" {
			continue
		}
		totalChars += len([]rune(text))
		pages = append(pages, Page{Number: pageNr, Text: text})
		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(text)
	}

	quality := &ExtractionQuality{
		PageCount:       ctx.PageCount,
		HasImageStreams: detectImageStreams(ctx),
		PrintableRatio:  computePrintableRatio(all.String()),
		WordlikeRatio:   computeWordlikeRatio(all.String()),
	}
	if ctx.PageCount > 0 {
		quality.CharsPerPage = float64(totalChars) / float64(ctx.PageCount)
	}

	if len(pages) == 0 {
		return &Document{Quality: quality}, ErrNoText
	}
	return &Document{Pages: pages, Quality: quality}, nil
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// detectImageStreams reports whether the PDF carries image XObjects, i.e. a
// scanned issue when there is little text.
func detectImageStreams(ctx *model.Context) bool {
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

var (
	// (literal) strings; escaped parens are handled by decodeLiteral.
	pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
	// <hex> strings, not dictionaries.
	pdfHexRe = regexp.MustCompile(`<([0-9A-Fa-f\s]+)>`)
)

// extractTextFromStream walks content stream lines and collects the operands
// of text showing operators.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			sb.WriteString(lineStrings(line))
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			sb.WriteByte('\n')
			sb.WriteString(lineStrings(line))
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

func lineStrings(line []byte) string {
	var sb strings.Builder
	for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
		sb.WriteString(decodeBytes(decodeLiteral(m[1])))
	}
	if sb.Len() == 0 {
		for _, m := range pdfHexRe.FindAllSubmatch(line, -1) {
			raw, err := hex.DecodeString(strings.Join(strings.Fields(string(m[1])), ""))
			if err == nil {
				sb.WriteString(decodeBytes(raw))
			}
		}
	}
	return sb.String()
}

// decodeLiteral resolves the escape sequences of a PDF literal string.
func decodeLiteral(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
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
		case '\\', '(', ')':
			out = append(out, raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				out = append(out, byte(val))
			} else {
				out = append(out, raw[i])
			}
		}
	}
	return out
}

// decodeBytes interprets string bytes as UTF-16BE when they carry a BOM and
// as a single-byte encoding otherwise.
func decodeBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		b = b[2:]
		u := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}

// cleanPDFText collapses whitespace and drops unprintable runes.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
