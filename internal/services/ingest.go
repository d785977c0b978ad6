package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Lllllllleong/labreportparser/internal/gcp"
	"github.com/Lllllllleong/labreportparser/internal/processor"
	"github.com/google/uuid"
)

// GCSEvent is the payload of a Cloud Storage object-finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// IngestFunction parses reports as they are uploaded to a bucket.
type IngestFunction struct {
	parser *ParserFunction
}

func NewIngest(p *ParserFunction) (*IngestFunction, error) {
	if p.objects == nil {
		return nil, fmt.Errorf("ingest needs Cloud Storage access")
	}
	return &IngestFunction{parser: p}, nil
}

// Process parses the uploaded object. Errors that a retry cannot fix are
// logged and swallowed so the event is not redelivered.
func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !isPDFObject(e) {
		logCtx.Info("Skipping non-PDF object.", "contentType", e.ContentType)
		return nil
	}

	p := f.parser
	start := p.now()
	uri := fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)
	content, err := p.objects.ReadURI(ctx, uri, p.config.MaxPayloadBytes)
	if errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrObjectTooLarge) {
		logCtx.Warn("Uploaded object cannot be read; not retrying.", "error", err)
		return nil
	}
	if err != nil {
		logCtx.Error("Failed to read uploaded object.", "error", err)
		return fmt.Errorf("read %s: %w", uri, err)
	}

	hash := fileHash(content)
	logCtx = logCtx.With("fileHash", hash)
	if p.ledger != nil {
		docID, dup, err := p.ledger.FindByHash(ctx, hash)
		if err != nil {
			logCtx.Error("Failed to check for duplicate", "error", err)
			return err
		}
		if dup {
			logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
			return nil
		}
	}

	_, err = p.parse(ctx, upload{
		content:   content,
		filename:  path.Base(e.Name),
		source:    uri,
		requestID: uuid.NewString(),
	}, start)
	if err == nil {
		return nil
	}
	if permanent(err) {
		logCtx.Warn("Uploaded report cannot be parsed; not retrying.", "error", err)
		return nil
	}
	return err
}

func isPDFObject(e GCSEvent) bool {
	if e.Name == "" || strings.HasSuffix(e.Name, "/") {
		return false
	}
	return e.ContentType == pdfMIMEType || strings.EqualFold(path.Ext(e.Name), ".pdf")
}

// permanent reports errors that redelivery would reproduce.
func permanent(err error) bool {
	if errors.Is(err, ErrInvalidInput) {
		return true
	}
	var all *processor.AllFailedError
	return errors.As(err, &all) && all.AllMalformed()
}
