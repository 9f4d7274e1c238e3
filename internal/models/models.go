package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through the parsing pipeline.
type DocumentStatus string

const (
	DocumentUploaded DocumentStatus = "uploaded"
	DocumentParsing  DocumentStatus = "parsing"
	DocumentParsed   DocumentStatus = "parsed"
	DocumentFailed   DocumentStatus = "failed"
)

// Document is the metadata record for one uploaded file. The raw bytes live
// in the content store under StorageKey; chunks reference the document by ID.
type Document struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         int64          `json:"tenantId"`
	Filename         string         `json:"filename"`
	OriginalFilename string         `json:"originalFilename"`
	MimeType         string         `json:"mimeType"`
	SizeBytes        int64          `json:"sizeBytes"`
	ContentHash      string         `json:"contentHash"`
	StorageKey       string         `json:"storageKey"`
	PageCount        *int           `json:"pageCount,omitempty"`
	Language         *string        `json:"language,omitempty"`
	Status           DocumentStatus `json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// ChunkType classifies the dominant structure of a chunk's content.
type ChunkType string

const (
	ChunkText    ChunkType = "text"
	ChunkTable   ChunkType = "table"
	ChunkList    ChunkType = "list"
	ChunkHeading ChunkType = "heading"
)

// Chunk is one retrieval-sized segment of a document's extracted text.
// ChunkOrder is zero-based and gap-free per document; sorting by it
// reconstructs the document's reading order.
type Chunk struct {
	ID            uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"documentId"`
	ChunkOrder    int       `json:"chunkOrder"`
	ChunkType     ChunkType `json:"chunkType"`
	TokenCount    int       `json:"tokenCount"`
	StartPage     *int      `json:"startPage,omitempty"`
	EndPage       *int      `json:"endPage,omitempty"`
	ParentHeading *string   `json:"parentHeading,omitempty"`
	Content       string    `json:"content"`
}

// JobStatus is the processing job state machine.
//
//	pending → processing → completed | failed | retrying | cancelled
//	retrying → processing
//
// completed, failed and cancelled are terminal.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

const JobTypeParseDocument = "parse_document"

// Job is one tracked attempt to parse and chunk a document.
type Job struct {
	ID              uuid.UUID  `json:"id"`
	DocumentID      uuid.UUID  `json:"documentId"`
	TenantID        int64      `json:"tenantId"`
	JobType         string     `json:"jobType"`
	Status          JobStatus  `json:"status"`
	ProgressPercent int        `json:"progressPercent"`
	RetryCount      int        `json:"retryCount"`
	MaxRetries      int        `json:"maxRetries"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// SessionStatus tracks a resumable upload session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

// UploadSession tracks one resumable chunked upload in progress. Partial
// bytes are staged on local disk at StagingPath until the session completes.
type UploadSession struct {
	ID            uuid.UUID     `json:"id"`
	TenantID      int64         `json:"tenantId"`
	UserID        int64         `json:"userId"`
	Filename      string        `json:"filename"`
	TotalBytes    int64         `json:"totalBytes"`
	ReceivedBytes int64         `json:"receivedBytes"`
	ChunkBytes    int64         `json:"chunkBytes"`
	StagingPath   string        `json:"-"`
	Status        SessionStatus `json:"status"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Tenant carries the storage accounting fields used by the quota ledger.
// Invariant: 0 <= UsedBytes <= QuotaBytes, enforced transactionally.
type Tenant struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	QuotaBytes int64     `json:"quotaBytes"`
	UsedBytes  int64     `json:"usedBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}
