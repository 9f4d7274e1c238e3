package parser

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/omnidocs/docpipe/internal/apperr"
)

// TextParser handles plain text. The bytes must be valid UTF-8; a single
// logical page is reported.
type TextParser struct{}

func NewTextParser() *TextParser {
	return &TextParser{}
}

func (p *TextParser) Extract(ctx context.Context, data []byte) (*ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Strip a UTF-8 BOM if present.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	if !utf8.Valid(data) {
		return nil, apperr.FatalParse(nil, "text file is not valid UTF-8")
	}

	text := string(data)
	return &ExtractResult{
		Text:      text,
		PageCount: 1,
		Language:  detectLanguage(text),
	}, nil
}
