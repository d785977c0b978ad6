package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/labreportparser/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// Ledger records one document per parse run. It never stores marker
// values, only the metadata needed to spot repeated uploads.
type Ledger struct {
	client     *firestore.Client
	collection string
}

func NewLedger(ctx context.Context, projectID, collection string) (*Ledger, error) {
	if collection == "" {
		return nil, fmt.Errorf("ledger collection must be set")
	}
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Ledger{client: client, collection: collection}, nil
}

// FindByHash returns the id of an earlier completed run over the same file.
// Failed runs do not count so a redelivered event is parsed again.
func (l *Ledger) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := l.client.Collection(l.collection).
		Where("fileHash", "==", fileHash).
		Where("status", "==", models.RunCompleted).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

// Record stores run and returns the new document id.
func (l *Ledger) Record(ctx context.Context, run models.ParseRun) (string, error) {
	docRef, _, err := l.client.Collection(l.collection).Add(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to record parse run: %w", err)
	}
	return docRef.ID, nil
}

func (l *Ledger) Close() error {
	return l.client.Close()
}
