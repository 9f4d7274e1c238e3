// Package parser maps detected MIME types to format parsers. The registry is
// a closed mapping: PDF, DOCX and plain text. Parsers are black boxes behind
// the Parser contract; timeouts and cancellation are the caller's concern.
package parser

import (
	"context"
	"sort"
	"strings"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/chunker"
	"github.com/omnidocs/docpipe/pkg/logger"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText = "text/plain"
)

// ExtractResult is the uniform output of every parser.
type ExtractResult struct {
	Text           string
	PageCount      int
	Language       string
	PageBoundaries []chunker.PageBoundary
}

// Parser extracts text and structure from one document format.
type Parser interface {
	Extract(ctx context.Context, data []byte) (*ExtractResult, error)
}

// Registry resolves a parser for a detected MIME type.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds the registry with the base format set.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		parsers: map[string]Parser{
			MimePDF:  NewPDFParser(log),
			MimeDOCX: NewDOCXParser(log),
			MimeText: NewTextParser(),
		},
	}
}

// Get returns the parser for mimeType. Unknown types fail fast with an error
// listing every supported format.
func (r *Registry) Get(mimeType string) (Parser, error) {
	// Strip parameters like "; charset=utf-8".
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if p, ok := r.parsers[base]; ok {
		return p, nil
	}
	return nil, apperr.UnsupportedFormat(
		"no parser for %q, supported formats: %s", base, strings.Join(r.Supported(), ", "))
}

// Supported lists the registered MIME types in stable order.
func (r *Registry) Supported() []string {
	out := make([]string, 0, len(r.parsers))
	for mt := range r.parsers {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// detectLanguage is a cheap stopword heuristic. It only claims English when
// the signal is unambiguous; anything else stays unknown and the document's
// language column remains null.
func detectLanguage(text string) string {
	stopwords := []string{" the ", " and ", " of ", " to ", " in ", " is "}
	sample := strings.ToLower(text)
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	hits := 0
	for _, w := range stopwords {
		hits += strings.Count(sample, w)
	}
	if hits >= 5 {
		return "en"
	}
	return ""
}
