package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/pkg/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(logger.NewTestLogger())
}

func TestRegistryResolvesKnownTypes(t *testing.T) {
	r := newTestRegistry(t)
	for _, mt := range []string{MimePDF, MimeDOCX, MimeText} {
		p, err := r.Get(mt)
		require.NoError(t, err, mt)
		assert.NotNil(t, p)
	}
}

func TestRegistryStripsParameters(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Get("text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegistryRejectsUnknownTypeListingSupported(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("image/png")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnsupportedFormat, apperr.CodeOf(err))
	for _, mt := range r.Supported() {
		assert.Contains(t, err.Error(), mt)
	}
}

func TestTextParserStripsBOM(t *testing.T) {
	p := NewTextParser()
	res, err := p.Extract(context.Background(), []byte("\xEF\xBB\xBFhello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, 1, res.PageCount)
}

func TestTextParserRejectsInvalidUTF8(t *testing.T) {
	p := NewTextParser()
	_, err := p.Extract(context.Background(), []byte{0xff, 0xfe, 0x00})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeFatalParse, apperr.CodeOf(err))
}

func TestTextParserHonorsCancellation(t *testing.T) {
	p := NewTextParser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Extract(ctx, []byte("hello"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDetectLanguage(t *testing.T) {
	english := strings.Repeat("the quick fox and the lazy dog ran to the barn in the rain is wet ", 3)
	assert.Equal(t, "en", detectLanguage(english))
	assert.Equal(t, "", detectLanguage("lorem ipsum dolor sit amet consectetur"))
	assert.Equal(t, "", detectLanguage(""))
}
