package parser

import (
	"bytes"
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/chunker"
	"github.com/omnidocs/docpipe/pkg/logger"
)

// PDFParser validates the document with pdfcpu, then extracts text page by
// page. Page boundaries are recorded as byte offsets into the concatenated
// text so the chunker can attribute page ranges.
type PDFParser struct {
	logger logger.Logger
	conf   *model.Configuration
}

func NewPDFParser(log logger.Logger) *PDFParser {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFParser{logger: log, conf: conf}
}

func (p *PDFParser) Extract(ctx context.Context, data []byte) (*ExtractResult, error) {
	rs := bytes.NewReader(data)

	// Structural validation first: a file that fails here is corrupt, not a
	// transient condition, and must not be retried.
	pageCount, err := api.PageCount(rs, p.conf)
	if err != nil {
		return nil, apperr.FatalParse(err, "pdf failed validation")
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.FatalParse(err, "pdf open failed")
	}

	var sb strings.Builder
	boundaries := make([]chunker.PageBoundary, 0, pageCount)

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		boundaries = append(boundaries, chunker.PageBoundary{Page: i, Offset: sb.Len()})

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("pdf page text extraction failed",
				logger.Int("page", i),
				logger.Error(err),
			)
			continue
		}
		sb.WriteString(strings.TrimSpace(text))
		sb.WriteString("\n\n")
	}

	text := sb.String()
	return &ExtractResult{
		Text:           text,
		PageCount:      pageCount,
		Language:       detectLanguage(text),
		PageBoundaries: boundaries,
	}, nil
}
