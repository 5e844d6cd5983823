// Package qtsp talks to the qualified trust service provider that timestamps
// daily roots and seals monthly reports.
package qtsp

import (
	"context"
	"time"
)

// Kind tags a provider answer.
type Kind string

const (
	KindOK      Kind = "ok"
	KindPending Kind = "pending"
	KindFailed  Kind = "failed"
)

// Result is the provider's answer to a notarize, seal or status call.
// Token and Timestamp are set for KindOK, Reason for KindFailed. Ref is the
// provider's evidence id whenever one was assigned.
type Result struct {
	Kind      Kind
	Ref       string
	Token     string
	Timestamp time.Time
	Reason    string
	// Artifact holds the sealed document returned by a completed seal.
	Artifact []byte
}

func Completed(ref, token string, ts time.Time) Result {
	return Result{Kind: KindOK, Ref: ref, Token: token, Timestamp: ts}
}

func Pending(ref string) Result {
	return Result{Kind: KindPending, Ref: ref}
}

func Failed(ref, reason string) Result {
	return Result{Kind: KindFailed, Ref: ref, Reason: reason}
}

type NotarizeRequest struct {
	GroupRef    string
	Name        string
	Description string
	Hash        string
}

type SealRequest struct {
	GroupRef    string
	Name        string
	Description string
	Hash        string
	FileName    string
	Content     []byte
}

// HealthReport is the outcome of a combined auth and reachability check.
// Partial is set when the API answered, but not with success.
type HealthReport struct {
	AuthOK  bool
	APIOK   bool
	Partial bool
	Latency time.Duration
	Message string
}

// Client is the provider API. Errors are *domain.ProviderError for retryable
// failures, or wrap domain.ErrAlreadySealed / domain.ErrMalformedPayload.
// On domain.ErrAlreadySealed the returned Result carries whatever token the
// provider included.
type Client interface {
	CreateCaseFile(ctx context.Context, name, description string) (string, error)
	CreateEvidenceGroup(ctx context.Context, caseFileRef, name string) (string, error)
	Notarize(ctx context.Context, req NotarizeRequest) (Result, error)
	Seal(ctx context.Context, req SealRequest) (Result, error)
	Status(ctx context.Context, ref string) (Result, error)
	Health(ctx context.Context) HealthReport
}
