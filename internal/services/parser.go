package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Lllllllleong/labreportparser/internal/config"
	"github.com/Lllllllleong/labreportparser/internal/gcp"
	"github.com/Lllllllleong/labreportparser/internal/metrics"
	"github.com/Lllllllleong/labreportparser/internal/models"
	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/Lllllllleong/labreportparser/internal/processor"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidInput marks request problems the caller must fix. No upstream
// call is made for them.
var ErrInvalidInput = errors.New("invalid input")

const pdfMIMEType = "application/pdf"

// Selector picks the processor that extracts a document.
type Selector interface {
	Select(ctx context.Context, doc processor.Document) (*processor.Outcome, error)
	Health(ctx context.Context) []processor.Health
}

// ObjectReader reads gs:// objects.
type ObjectReader interface {
	ReadURI(ctx context.Context, uri string, limit int64) ([]byte, error)
}

// RunLedger stores parse metadata.
type RunLedger interface {
	FindByHash(ctx context.Context, fileHash string) (string, bool, error)
	Record(ctx context.Context, run models.ParseRun) (string, error)
}

// ResultPublisher hands a finished parse to a downstream consumer.
type ResultPublisher interface {
	Trigger(ctx context.Context, payload any) (string, error)
}

// PageCounter returns the number of pages in a PDF.
type PageCounter func(rs io.ReadSeeker) (int, error)

func pdfcpuPageCount(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

// ParserConfig holds the request limits.
type ParserConfig struct {
	MaxPages        int
	MaxPayloadBytes int64
}

// Dependencies wires a ParserFunction. Objects, Ledger and Publisher are
// optional.
type Dependencies struct {
	Selector    Selector
	Pipeline    *parser.Pipeline
	Metrics     *metrics.Metrics
	Objects     ObjectReader
	Ledger      RunLedger
	Publisher   ResultPublisher
	PageCounter PageCounter
	Limits      ParserConfig
	Closers     []io.Closer
}

// ParserFunction turns report PDFs into structured extraction results.
type ParserFunction struct {
	selector  Selector
	pipeline  *parser.Pipeline
	metrics   *metrics.Metrics
	objects   ObjectReader
	ledger    RunLedger
	publisher ResultPublisher
	pageCount PageCounter
	config    ParserConfig
	closers   []io.Closer
	now       func() time.Time
}

// NewParserWith assembles a ParserFunction from explicit dependencies.
func NewParserWith(deps Dependencies) (*ParserFunction, error) {
	if deps.Selector == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("selector and pipeline are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("labparse")
	}
	if deps.PageCounter == nil {
		deps.PageCounter = pdfcpuPageCount
	}
	if deps.Limits.MaxPages <= 0 || deps.Limits.MaxPayloadBytes <= 0 {
		return nil, fmt.Errorf("limits must be positive")
	}
	return &ParserFunction{
		selector:  deps.Selector,
		pipeline:  deps.Pipeline,
		metrics:   deps.Metrics,
		objects:   deps.Objects,
		ledger:    deps.Ledger,
		publisher: deps.Publisher,
		pageCount: deps.PageCounter,
		config:    deps.Limits,
		closers:   deps.Closers,
		now:       time.Now,
	}, nil
}

// NewParser creates the Google Cloud clients named by cfg.
func NewParser(ctx context.Context, cfg *config.Config) (*ParserFunction, error) {
	objects, err := gcp.NewObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{objects}

	aliases, err := LoadAliasTable(ctx, cfg.Aliases.Source, objects)
	if err != nil {
		return nil, fmt.Errorf("failed to load alias table: %w", err)
	}
	pipeline, err := parser.New(cfg.PipelineConfig(aliases))
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	m := metrics.New("labparse")
	primaryDesc, fallbackDesc := cfg.Descriptors()
	descs := []processor.Descriptor{primaryDesc}
	if fallbackDesc != nil {
		descs = append(descs, *fallbackDesc)
	}
	procs, backendClosers, err := newProcessors(ctx, cfg, descs)
	if err != nil {
		return nil, err
	}
	closers = append(closers, backendClosers...)

	var fallback *processor.Processor
	if len(procs) > 1 {
		fallback = &procs[1]
	}
	selector, err := processor.NewSelector(procs[0], fallback, cfg.SelectorOptions(), processor.WithObserver(m))
	if err != nil {
		return nil, fmt.Errorf("failed to build processor selector: %w", err)
	}

	deps := Dependencies{
		Selector: selector,
		Pipeline: pipeline,
		Metrics:  m,
		Objects:  objects,
		Limits: ParserConfig{
			MaxPages:        cfg.Limits.MaxPages,
			MaxPayloadBytes: cfg.Limits.MaxPayloadBytes,
		},
	}
	if cfg.Firestore.Collection != "" {
		ledger, err := gcp.NewLedger(ctx, cfg.ProjectID, cfg.Firestore.Collection)
		if err != nil {
			return nil, err
		}
		deps.Ledger = ledger
		closers = append(closers, ledger)
	}
	if cfg.Workflow.ID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.Workflow.Location, cfg.Workflow.ID)
		if err != nil {
			return nil, err
		}
		deps.Publisher = trigger
		closers = append(closers, trigger)
	}
	deps.Closers = closers

	slog.Info("Parser initialized.",
		"primaryProcessor", primaryDesc.ID,
		"fallbackConfigured", fallbackDesc != nil,
		"aliases", aliases.Len(),
		"ledger", deps.Ledger != nil,
		"workflow", deps.Publisher != nil,
	)
	return NewParserWith(deps)
}

func newProcessors(ctx context.Context, cfg *config.Config, descs []processor.Descriptor) ([]processor.Processor, []io.Closer, error) {
	var closers []io.Closer
	docai := map[string]processor.DocumentAIClient{}
	var docaiBackend *processor.DocumentAIBackend
	var geminiBackend *processor.GeminiBackend

	procs := make([]processor.Processor, 0, len(descs))
	for _, d := range descs {
		switch d.Kind {
		case processor.KindDocumentAI:
			if _, ok := docai[d.Location]; !ok {
				client, err := gcp.NewDocumentAIClient(ctx, d.Location)
				if err != nil {
					return nil, closers, err
				}
				docai[d.Location] = client
				closers = append(closers, client)
			}
			if docaiBackend == nil {
				docaiBackend = processor.NewDocumentAIBackend(docai)
			}
			procs = append(procs, processor.Processor{Descriptor: d, Backend: docaiBackend})
		case processor.KindGemini:
			if geminiBackend == nil {
				vc, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAI.Region, cfg.VertexAI.Model)
				if err != nil {
					return nil, closers, err
				}
				closers = append(closers, vc)
				geminiBackend = processor.NewGeminiBackend(vc)
			}
			procs = append(procs, processor.Processor{Descriptor: d, Backend: geminiBackend})
		default:
			return nil, closers, fmt.Errorf("unknown processor kind %q", d.Kind)
		}
	}
	return procs, closers, nil
}

// LoadAliasTable reads a replacement table from a local path or a gs://
// uri. An empty source yields the built-in table.
func LoadAliasTable(ctx context.Context, source string, objects ObjectReader) (*parser.AliasTable, error) {
	if source == "" {
		return parser.DefaultAliasTable(), nil
	}
	var data []byte
	var err error
	if strings.HasPrefix(source, "gs://") {
		if objects == nil {
			return nil, fmt.Errorf("alias source %s needs Cloud Storage access", source)
		}
		data, err = objects.ReadURI(ctx, source, 0)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read alias table %s: %w", source, err)
	}
	return parser.ParseAliasTable(data)
}

// Close releases the Google Cloud clients.
func (f *ParserFunction) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Metrics exposes the instance's collectors.
func (f *ParserFunction) Metrics() *metrics.Metrics { return f.metrics }

// Health reports processor availability.
func (f *ParserFunction) Health(ctx context.Context) []processor.Health {
	return f.selector.Health(ctx)
}

// upload is a document awaiting validation and where it came from.
type upload struct {
	content   []byte
	filename  string
	source    string
	requestID string
}

// Process handles one parse request.
func (f *ParserFunction) Process(ctx context.Context, req *models.ParseRequest) (*models.ParseResponse, error) {
	return f.ProcessWithID(ctx, uuid.NewString(), req)
}

// ProcessWithID is Process with a caller-supplied request id.
func (f *ParserFunction) ProcessWithID(ctx context.Context, requestID string, req *models.ParseRequest) (*models.ParseResponse, error) {
	start := f.now()
	filename := req.Filename
	if filename == "" {
		filename = models.DefaultFilename
	}
	logCtx := slog.With("requestId", requestID, "filename", filename)

	content, source, err := f.load(ctx, req)
	if err != nil {
		logCtx.Warn("Rejected request.", "error", err)
		f.metrics.ObserveFailure(failureOutcome(err), f.now().Sub(start))
		return nil, err
	}
	return f.parse(ctx, upload{content: content, filename: filename, source: source, requestID: requestID}, start)
}

func (f *ParserFunction) load(ctx context.Context, req *models.ParseRequest) ([]byte, string, error) {
	hasInline, hasURI := req.PDFBase64 != "", req.GCSUri != ""
	switch {
	case hasInline && hasURI:
		return nil, "", fmt.Errorf("%w: set only one of pdf_base64 and gcs_uri", ErrInvalidInput)
	case hasInline:
		content, err := decodeBase64(req.PDFBase64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid base64 PDF data: %v", ErrInvalidInput, err)
		}
		return content, "inline", nil
	case hasURI:
		if f.objects == nil {
			return nil, "", fmt.Errorf("%w: gcs_uri is not supported by this deployment", ErrInvalidInput)
		}
		content, err := f.objects.ReadURI(ctx, req.GCSUri, f.config.MaxPayloadBytes)
		if err != nil {
			if errors.Is(err, gcp.ErrInvalidGCSURI) || errors.Is(err, gcp.ErrObjectNotFound) || errors.Is(err, gcp.ErrObjectTooLarge) {
				return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return nil, "", fmt.Errorf("failed to read %s: %w", req.GCSUri, err)
		}
		return content, req.GCSUri, nil
	default:
		return nil, "", fmt.Errorf("%w: missing required field: pdf_base64", ErrInvalidInput)
	}
}

// decodeBase64 accepts standard or URL-safe encodings, with or without a
// data: prefix.
func decodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// validate checks size, header and page count and returns the page count.
func (f *ParserFunction) validate(content []byte) (int, error) {
	if len(content) == 0 {
		return 0, fmt.Errorf("%w: empty document", ErrInvalidInput)
	}
	if int64(len(content)) > f.config.MaxPayloadBytes {
		return 0, fmt.Errorf("%w: document is %d bytes, limit is %d", ErrInvalidInput, len(content), f.config.MaxPayloadBytes)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte("%PDF-")) {
		return 0, fmt.Errorf("%w: not a PDF document", ErrInvalidInput)
	}
	pages, err := f.pageCount(bytes.NewReader(content))
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable PDF: %v", ErrInvalidInput, err)
	}
	if pages > f.config.MaxPages {
		return 0, fmt.Errorf("%w: document has %d pages, limit is %d", ErrInvalidInput, pages, f.config.MaxPages)
	}
	return pages, nil
}

func fileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (f *ParserFunction) parse(ctx context.Context, u upload, start time.Time) (*models.ParseResponse, error) {
	logCtx := slog.With("requestId", u.requestID, "filename", u.filename)

	pages, err := f.validate(u.content)
	if err != nil {
		logCtx.Warn("Rejected document.", "error", err)
		f.metrics.ObserveFailure(failureOutcome(err), f.now().Sub(start))
		return nil, err
	}
	hash := fileHash(u.content)
	logCtx = logCtx.With("fileHash", hash, "pages", pages)
	logCtx.Info("Processing document.")

	run := models.ParseRun{
		FileHash:         hash,
		OriginalFilename: u.filename,
		Source:           u.source,
		RequestID:        u.requestID,
		PageCount:        pages,
		CreatedAt:        start,
	}

	outcome, err := f.selector.Select(ctx, processor.Document{
		Content:  u.content,
		MIMEType: pdfMIMEType,
		Filename: u.filename,
		Pages:    pages,
	})
	if err != nil {
		logCtx.Error("Extraction failed.", "error", err)
		f.metrics.ObserveFailure(failureOutcome(err), f.now().Sub(start))
		run.Status = models.RunFailed
		run.ErrorDetails = err.Error()
		f.record(ctx, logCtx, run)
		return nil, err
	}

	raw := outcome.Extraction
	if raw.PageCount == 0 {
		raw.PageCount = pages
	}
	result := f.pipeline.Run(raw)
	f.metrics.ObserveResult(result, f.now().Sub(start))

	st := result.Stats
	logCtx.Info("Extraction complete.",
		"processorId", st.ProcessorID,
		"trace", outcome.Trace,
		"markers", st.TotalMarkersFound,
		"confidence", st.ExtractionConfidence,
		"validationStatus", st.ValidationStatus,
	)

	run.Status = models.RunCompleted
	run.ProcessorID = st.ProcessorID
	run.MarkerCount = st.TotalMarkersFound
	run.Confidence = st.ExtractionConfidence
	run.ValidationStatus = st.ValidationStatus
	runID := f.record(ctx, logCtx, run)
	f.publish(ctx, logCtx, models.ParsedReportEvent{
		RunID:            runID,
		RequestID:        u.requestID,
		Filename:         u.filename,
		Source:           u.source,
		ProcessorID:      st.ProcessorID,
		MarkerCount:      st.TotalMarkersFound,
		Confidence:       st.ExtractionConfidence,
		ValidationStatus: st.ValidationStatus,
	})

	return &models.ParseResponse{
		Status:           models.StatusSuccess,
		Message:          "Document processed successfully",
		Filename:         u.filename,
		RequestID:        u.requestID,
		ExtractionResult: result,
	}, nil
}

// record stores run if a ledger is configured. Failures are logged only.
func (f *ParserFunction) record(ctx context.Context, logCtx *slog.Logger, run models.ParseRun) string {
	if f.ledger == nil {
		return ""
	}
	id, err := f.ledger.Record(ctx, run)
	if err != nil {
		logCtx.Error("Failed to record parse run.", "error", err)
		return ""
	}
	return id
}

func (f *ParserFunction) publish(ctx context.Context, logCtx *slog.Logger, event models.ParsedReportEvent) {
	if f.publisher == nil {
		return
	}
	execution, err := f.publisher.Trigger(ctx, event)
	if err != nil {
		logCtx.Error("Failed to hand off result to workflow.", "error", err)
		return
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", execution)
}

// failureOutcome is the metrics label for a failed request.
func failureOutcome(err error) string {
	var all *processor.AllFailedError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, processor.ErrBudgetExhausted):
		return "budget_exhausted"
	case errors.As(err, &all) && all.AllMalformed():
		return "malformed_input"
	case errors.Is(err, processor.ErrAllFailed):
		return "all_failed"
	default:
		return "error"
	}
}
