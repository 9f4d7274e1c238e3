package parser

import (
	"bytes"
	"context"

	"code.sajari.com/docconv"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/pkg/logger"
)

// DOCXParser extracts text from Word documents through docconv. DOCX has no
// fixed pagination before rendering, so no page boundaries are reported.
type DOCXParser struct {
	logger logger.Logger
}

func NewDOCXParser(log logger.Logger) *DOCXParser {
	return &DOCXParser{logger: log}
}

func (p *DOCXParser) Extract(ctx context.Context, data []byte) (*ExtractResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.FatalParse(err, "docx conversion failed")
	}

	return &ExtractResult{
		Text:     text,
		Language: detectLanguage(text),
	}, nil
}
