package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidocs/docpipe/pkg/logger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), logger.NewTestLogger())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	payload := []byte("some document bytes")

	key, err := s.Put(ctx, "tenants/1/documents/abc.pdf", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, "tenants/1/documents/abc.pdf", key)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPutOverwritesExistingKey(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "k", strings.NewReader("old"), 3)
	require.NoError(t, err)
	_, err = s.Put(ctx, "k", strings.NewReader("new"), 3)
	require.NoError(t, err)

	rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "new", string(got))
}

func TestGetMissingKeyIsNotExist(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Get(context.Background(), "never/stored")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "k", strings.NewReader("x"), 1)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k"))
	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, "k"))

	_, err = s.Get(ctx, "k")
	assert.Error(t, err)
}

func TestTraversalKeysRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, key := range []string{"../outside", "a/../../outside", "/etc/passwd", "."} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), 1)
		assert.Error(t, err, key)
		_, err = s.Get(ctx, key)
		assert.Error(t, err, key)
	}
}
