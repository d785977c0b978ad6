package models

import "time"

// Run statuses.
const (
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
)

// ParseRun is the Firestore record of one parse. It carries metadata
// only; marker values are never stored.
type ParseRun struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	Source           string    `firestore:"source,omitempty"`
	RequestID        string    `firestore:"requestId,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	ProcessorID      string    `firestore:"processorId,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	MarkerCount      int       `firestore:"markerCount"`
	Confidence       float64   `firestore:"confidence"`
	ValidationStatus string    `firestore:"validationStatus,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}
