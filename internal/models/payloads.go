package models

import "github.com/Lllllllleong/labreportparser/internal/parser"

// DefaultFilename is reported when a request names no file.
const DefaultFilename = "medical_report.pdf"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ParseRequest is the body of a parse call. Exactly one of PDFBase64 and
// GCSUri must be set.
type ParseRequest struct {
	PDFBase64 string `json:"pdf_base64,omitempty"`
	GCSUri    string `json:"gcs_uri,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// ParseResponse is the successful result of a parse call.
type ParseResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	RequestID string `json:"request_id,omitempty"`
	parser.ExtractionResult
}

// ErrorResponse is returned with any non-2xx status.
type ErrorResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ProcessorHealth is one entry of HealthResponse.
type ProcessorHealth struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	DownSince string `json:"down_since,omitempty"`
	Error     string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Processors []ProcessorHealth `json:"processors"`
}

// ParsedReportEvent is the argument passed to the downstream workflow.
type ParsedReportEvent struct {
	RunID            string  `json:"runId"`
	RequestID        string  `json:"requestId"`
	Filename         string  `json:"filename"`
	Source           string  `json:"source,omitempty"`
	ProcessorID      string  `json:"processorId"`
	MarkerCount      int     `json:"markerCount"`
	Confidence       float64 `json:"confidence"`
	ValidationStatus string  `json:"validationStatus"`
}
