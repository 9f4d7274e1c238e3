package processing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/chunker"
	"github.com/omnidocs/docpipe/internal/models"
	"github.com/omnidocs/docpipe/internal/parser"
	"github.com/omnidocs/docpipe/internal/repository"
	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/queue"
	"github.com/omnidocs/docpipe/pkg/tokenizer"
)

// fakeStore mirrors the conditional state transitions the SQL layer enforces.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*models.Document
	jobs     map[uuid.UUID]*models.Job
	chunks   map[uuid.UUID][]models.Chunk
	progress []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   map[uuid.UUID]*models.Document{},
		jobs:   map[uuid.UUID]*models.Job{},
		chunks: map[uuid.UUID][]models.Chunk{},
	}
}

func (f *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, id uuid.UUID, status models.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) ClaimJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || (j.Status != models.JobPending && j.Status != models.JobRetrying) {
		return nil, repository.ErrNotFound
	}
	j.Status = models.JobProcessing
	now := time.Now()
	j.StartedAt = &now
	cp := *j
	return &cp, nil
}

func (f *fakeStore) UpdateJobProgress(_ context.Context, id uuid.UUID, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
	f.progress = append(f.progress, j.ProgressPercent)
	return nil
}

func (f *fakeStore) MarkJobRetrying(_ context.Context, id uuid.UUID, cause string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != models.JobProcessing {
		return nil, repository.ErrNotFound
	}
	j.Status = models.JobRetrying
	j.RetryCount++
	j.ErrorMessage = cause
	j.ProgressPercent = 0
	cp := *j
	return &cp, nil
}

func (f *fakeStore) RequeueJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != models.JobFailed {
		return nil, repository.ErrNotFound
	}
	j.Status = models.JobPending
	j.ErrorMessage = ""
	j.ProgressPercent = 0
	j.CompletedAt = nil
	cp := *j
	return &cp, nil
}

func (f *fakeStore) CancelJob(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	switch j.Status {
	case models.JobPending, models.JobProcessing, models.JobRetrying:
		j.Status = models.JobCancelled
		return nil
	default:
		return repository.ErrNotFound
	}
}

func (f *fakeStore) CompleteJob(_ context.Context, jobID, documentID uuid.UUID, pageCount *int, language *string, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.Status != models.JobProcessing {
		return repository.ErrNotFound
	}
	f.chunks[documentID] = chunks
	d := f.docs[documentID]
	d.Status = models.DocumentParsed
	d.PageCount = pageCount
	d.Language = language
	j.Status = models.JobCompleted
	j.ProgressPercent = 100
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (f *fakeStore) FailJobTerminally(_ context.Context, jobID, documentID uuid.UUID, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok && j.Status != models.JobCompleted && j.Status != models.JobCancelled {
		j.Status = models.JobFailed
		j.ErrorMessage = cause
	}
	if d, ok := f.docs[documentID]; ok {
		d.Status = models.DocumentFailed
	}
	return nil
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failTimes int
	onGet     func()
}

func (f *fakeBlobs) Put(_ context.Context, key string, r io.Reader, _ int64) (string, error) {
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return key, nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	if f.failTimes != 0 {
		if f.failTimes > 0 {
			f.failTimes--
		}
		f.mu.Unlock()
		return nil, errors.New("storage unreachable")
	}
	data, ok := f.objects[key]
	hook := f.onGet
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.ParsePayload
}

func (f *fakeQueue) EnqueueParse(_ context.Context, p queue.ParsePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeQueue) EnqueueManualRetry(ctx context.Context, p queue.ParsePayload) error {
	return f.EnqueueParse(ctx, p)
}

func (f *fakeQueue) Close() error { return nil }

type fixture struct {
	svc   *Service
	store *fakeStore
	blobs *fakeBlobs
	queue *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(),
		blobs: &fakeBlobs{objects: map[string][]byte{}},
		queue: &fakeQueue{},
	}
	log := logger.NewTestLogger()
	ch := chunker.New(chunker.Params{TargetTokens: 10, OverlapTokens: 0, MinTokens: 1}, tokenizer.Words{})
	f.svc = NewService(f.store, f.blobs, parser.NewRegistry(log), ch, f.queue, log, Config{
		ParseTimeout: 5 * time.Second,
	})
	return f
}

// seed creates an uploaded text document with a pending parse job.
func (f *fixture) seed(t *testing.T, content string, maxRetries int) (*models.Document, *models.Job) {
	t.Helper()
	doc := &models.Document{
		ID:         uuid.New(),
		TenantID:   1,
		MimeType:   parser.MimeText,
		SizeBytes:  int64(len(content)),
		StorageKey: "tenants/1/documents/" + uuid.NewString(),
		Status:     models.DocumentUploaded,
	}
	job := &models.Job{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		TenantID:   1,
		JobType:    models.JobTypeParseDocument,
		Status:     models.JobPending,
		MaxRetries: maxRetries,
	}
	f.store.docs[doc.ID] = doc
	f.store.jobs[job.ID] = job
	_, err := f.blobs.Put(context.Background(), doc.StorageKey, bytes.NewReader([]byte(content)), doc.SizeBytes)
	require.NoError(t, err)
	return doc, job
}

const sampleText = "# Report\n\nthe quick brown fox jumps over the lazy dog again and again\n\nthe second paragraph is here to make more than one chunk of text"

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, sampleText, 3)

	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	got := f.store.jobs[job.ID]
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Zero(t, got.RetryCount)

	d := f.store.docs[doc.ID]
	assert.Equal(t, models.DocumentParsed, d.Status)
	require.NotNil(t, d.PageCount)
	assert.Equal(t, 1, *d.PageCount)

	chunks := f.store.chunks[doc.ID]
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkOrder)
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Positive(t, c.TokenCount)
		assert.NotEmpty(t, c.Content)
	}

	// Milestones were recorded in rising order.
	assert.Equal(t, []int{25, 50, 75}, f.store.progress)
}

func TestProcessDuplicateDeliveryIsDropped(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, sampleText, 3)

	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	before := len(f.store.chunks[doc.ID])

	// The broker redelivers; the claim fails and the delivery is dropped.
	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	assert.Len(t, f.store.chunks[doc.ID], before)
	assert.Equal(t, models.JobCompleted, f.store.jobs[job.ID].Status)
}

func TestProcessTransientFailureRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, sampleText, 3)
	f.blobs.failTimes = 2

	// First two deliveries hit the flaky store and go back to the queue.
	for i := 1; i <= 2; i++ {
		err := f.svc.Process(context.Background(), job.ID)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
		assert.Equal(t, models.JobRetrying, f.store.jobs[job.ID].Status)
		assert.Equal(t, i, f.store.jobs[job.ID].RetryCount)
	}

	// Third delivery succeeds; the retry count keeps its history.
	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	got := f.store.jobs[job.ID]
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotEmpty(t, f.store.chunks[doc.ID])
}

func TestProcessRetriesExhaustedFailsTerminally(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, sampleText, 3)
	f.blobs.failTimes = -1 // fail forever

	for i := 1; i <= 3; i++ {
		err := f.svc.Process(context.Background(), job.ID)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	}

	// Budget exhausted: the fourth attempt is terminal.
	err := f.svc.Process(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	got := f.store.jobs[job.ID]
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Equal(t, models.DocumentFailed, f.store.docs[doc.ID].Status)
	assert.Empty(t, f.store.chunks[doc.ID])
}

func TestProcessFatalParseFailsImmediately(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, "\xff\xfe not utf8 at all", 3)

	err := f.svc.Process(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "fatal errors must not consume the retry budget")

	got := f.store.jobs[job.ID]
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Equal(t, models.DocumentFailed, f.store.docs[doc.ID].Status)
}

// stuckParser blocks until released, ignoring the context entirely, like a
// decoding library spinning on pathological input.
type stuckParser struct {
	release chan struct{}
}

func (p *stuckParser) Extract(context.Context, []byte) (*parser.ExtractResult, error) {
	<-p.release
	return nil, errors.New("released")
}

type singleParser struct {
	p parser.Parser
}

func (r singleParser) Get(string) (parser.Parser, error) { return r.p, nil }

func TestProcessHungParserReleasesWorkerAtDeadline(t *testing.T) {
	f := newFixture(t)
	stuck := &stuckParser{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })

	log := logger.NewTestLogger()
	ch := chunker.New(chunker.Params{TargetTokens: 10, OverlapTokens: 0, MinTokens: 1}, tokenizer.Words{})
	f.svc = NewService(f.store, f.blobs, singleParser{stuck}, ch, f.queue, log, Config{
		ParseTimeout: 50 * time.Millisecond,
	})
	_, job := f.seed(t, sampleText, 3)

	start := time.Now()
	err := f.svc.Process(context.Background(), job.ID)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "a timeout is transient")
	assert.Less(t, time.Since(start), 5*time.Second, "Process must return at the deadline, not wait for the parser")

	got := f.store.jobs[job.ID]
	assert.Equal(t, models.JobRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestProcessCancelledBeforeStartIsDropped(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, sampleText, 3)
	require.NoError(t, f.svc.Cancel(context.Background(), job.ID))

	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	assert.Equal(t, models.JobCancelled, f.store.jobs[job.ID].Status)
	assert.Empty(t, f.store.chunks[doc.ID])
}

func TestProcessCancelledMidFlightStopsAtMilestone(t *testing.T) {
	f := newFixture(t)
	doc, job := f.seed(t, sampleText, 3)
	// Cancellation lands while the worker is fetching the blob.
	f.blobs.onGet = func() {
		require.NoError(t, f.svc.Cancel(context.Background(), job.ID))
	}

	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	assert.Equal(t, models.JobCancelled, f.store.jobs[job.ID].Status)
	assert.Empty(t, f.store.chunks[doc.ID])
	// The document went back to its pre-parse state.
	assert.Equal(t, models.DocumentUploaded, f.store.docs[doc.ID].Status)
}

func TestRetryRequeuesFailedJob(t *testing.T) {
	f := newFixture(t)
	_, job := f.seed(t, "\xff\xfe broken", 3)
	_ = f.svc.Process(context.Background(), job.ID) // fails terminally

	got, err := f.svc.Retry(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, job.ID, f.queue.payloads[0].JobID)
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	f := newFixture(t)
	_, job := f.seed(t, sampleText, 3)
	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	_, err := f.svc.Retry(context.Background(), job.ID)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	_, err = f.svc.Retry(context.Background(), uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestCancelFinishedJobIsConflict(t *testing.T) {
	f := newFixture(t)
	_, job := f.seed(t, sampleText, 3)
	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	err := f.svc.Cancel(context.Background(), job.ID)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	err = f.svc.Cancel(context.Background(), uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestGetJobUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetJob(context.Background(), uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
