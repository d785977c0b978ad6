// Package processor selects which upstream extraction backend serves a
// document and normalizes backend failures.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Role distinguishes the preferred processor from the backup.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Kind names a backend implementation.
type Kind string

const (
	KindDocumentAI Kind = "documentai"
	KindGemini     Kind = "gemini"
)

// Descriptor identifies one upstream processor.
type Descriptor struct {
	ID        string
	Role      Role
	Kind      Kind
	ProjectID string
	Location  string
}

// ResourceName is the fully qualified Document AI processor name.
func (d Descriptor) ResourceName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", d.ProjectID, d.Location, d.ID)
}

// Document is the payload sent upstream.
type Document struct {
	Content  []byte
	MIMEType string
	Filename string
	Pages    int
}

// Backend extracts text from a document using one processor.
type Backend interface {
	Process(ctx context.Context, d Descriptor, doc Document) (parser.RawExtraction, error)
}

// Prober is implemented by backends that can check a processor without
// sending a document.
type Prober interface {
	Probe(ctx context.Context, d Descriptor) error
}

// Processor pairs a descriptor with the backend that serves it.
type Processor struct {
	Descriptor
	Backend Backend
}

// FailureKind classifies upstream errors.
type FailureKind string

const (
	FailureUnavailable    FailureKind = "unavailable"
	FailureNotFound       FailureKind = "not_found"
	FailureTimeout        FailureKind = "timeout"
	FailureMalformedInput FailureKind = "malformed_input"
)

// Failure is a classified backend error.
type Failure struct {
	Kind        FailureKind
	ProcessorID string
	Err         error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("processor %s: %s: %v", f.ProcessorID, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err with an explicit kind.
func NewFailure(kind FailureKind, processorID string, err error) *Failure {
	return &Failure{Kind: kind, ProcessorID: processorID, Err: err}
}

// Classify maps an arbitrary backend error onto a FailureKind. Unknown
// errors are treated as transient unavailability.
func Classify(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound, codes.FailedPrecondition, codes.PermissionDenied, codes.Unimplemented:
			return FailureNotFound
		case codes.DeadlineExceeded:
			return FailureTimeout
		case codes.InvalidArgument, codes.OutOfRange:
			return FailureMalformedInput
		}
	}
	return FailureUnavailable
}

func asFailure(err error, processorID string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		if f.ProcessorID == "" {
			f = NewFailure(f.Kind, processorID, f.Err)
		}
		return f
	}
	return NewFailure(Classify(err), processorID, err)
}
