package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/labreportparser/internal/parser"
)

// geminiConfidence is reported for model transcriptions, which carry no
// per-token confidence of their own.
const geminiConfidence = 0.7

// ErrEmptyTranscription means the model answered with no text.
var ErrEmptyTranscription = errors.New("empty transcription")

// Transcriber turns a PDF into plain text, one table row per line.
type Transcriber interface {
	Transcribe(ctx context.Context, pdf []byte, mimeType string) (string, error)
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// GeminiBackend serves descriptors of KindGemini.
type GeminiBackend struct {
	transcriber Transcriber
}

func NewGeminiBackend(t Transcriber) *GeminiBackend {
	return &GeminiBackend{transcriber: t}
}

func (b *GeminiBackend) Process(ctx context.Context, d Descriptor, doc Document) (parser.RawExtraction, error) {
	mime := doc.MIMEType
	if mime == "" {
		mime = "application/pdf"
	}
	text, err := b.transcriber.Transcribe(ctx, doc.Content, mime)
	if err != nil {
		return parser.RawExtraction{}, fmt.Errorf("gemini transcribe %s: %w", d.ID, err)
	}

	if strings.TrimSpace(text) == "" {
		return parser.RawExtraction{}, NewFailure(FailureMalformedInput, d.ID, ErrEmptyTranscription)
	}
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return parser.RawExtraction{}, NewFailure(FailureMalformedInput, d.ID, fmt.Errorf("model refused the document"))
		}
	}

	return parser.RawExtraction{
		Text:       text,
		PageCount:  doc.Pages,
		Confidence: geminiConfidence,
	}, nil
}
