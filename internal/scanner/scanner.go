// Package scanner screens uploaded bytes for malware before they are
// persisted. The production backend is a clamd daemon; deployments without
// one run with scanning disabled and a pass-through scanner.
package scanner

import (
	"bytes"
	"context"
	"fmt"

	clamd "github.com/dutchcoders/go-clamd"
)

// Verdict is the outcome of a scan.
type Verdict int

const (
	// Clean means the scanner saw nothing.
	Clean Verdict = iota
	// Infected means the scanner matched a signature.
	Infected
	// Unavailable means the scanner could not be reached. The upload
	// coordinator decides fail-open vs fail-closed.
	Unavailable
)

// Result carries the verdict plus the matched signature name, if any.
type Result struct {
	Verdict   Verdict
	Signature string
}

// Scanner screens a payload. Implementations must be safe for concurrent use.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (Result, error)
}

// Clamd scans through a clamd daemon over its TCP or unix socket protocol.
type Clamd struct {
	client *clamd.Clamd
}

// NewClamd dials nothing up front; clamd connections are per-scan.
// addr is a clamd address like "tcp://localhost:3310".
func NewClamd(addr string) *Clamd {
	return &Clamd{client: clamd.NewClamd(addr)}
}

func (s *Clamd) Scan(ctx context.Context, data []byte) (Result, error) {
	abort := make(chan bool)
	defer close(abort)

	ch, err := s.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return Result{Verdict: Unavailable}, fmt.Errorf("clamd scan: %w", err)
	}

	select {
	case <-ctx.Done():
		return Result{Verdict: Unavailable}, ctx.Err()
	case r, ok := <-ch:
		if !ok || r == nil {
			return Result{Verdict: Unavailable}, fmt.Errorf("clamd scan: no response")
		}
		switch r.Status {
		case clamd.RES_OK:
			return Result{Verdict: Clean}, nil
		case clamd.RES_FOUND:
			return Result{Verdict: Infected, Signature: r.Description}, nil
		default:
			return Result{Verdict: Unavailable}, fmt.Errorf("clamd scan: %s", r.Raw)
		}
	}
}

// Disabled is the pass-through scanner used when scanning is turned off.
type Disabled struct{}

func (Disabled) Scan(context.Context, []byte) (Result, error) {
	return Result{Verdict: Clean}, nil
}
