package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/labreportparser/internal/gcp"
	"github.com/Lllllllleong/labreportparser/internal/metrics"
	"github.com/Lllllllleong/labreportparser/internal/models"
	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/Lllllllleong/labreportparser/internal/processor"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const reportText = "Leukozyten 6,8 G/l 4,0-10,0\nFerritin 12 µg/l > 15\n"

var testPDF = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

type scriptedBackend struct {
	mu    sync.Mutex
	fn    func(ctx context.Context) (parser.RawExtraction, error)
	calls int
}

func (b *scriptedBackend) Process(ctx context.Context, _ processor.Descriptor, _ processor.Document) (parser.RawExtraction, error) {
	b.mu.Lock()
	b.calls++
	fn := b.fn
	b.mu.Unlock()
	return fn(ctx)
}

func (b *scriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func extracts(text string) *scriptedBackend {
	return &scriptedBackend{fn: func(context.Context) (parser.RawExtraction, error) {
		return parser.RawExtraction{Text: text, Confidence: 0.9, PageCount: 1}, nil
	}}
}

func failsWith(err error) *scriptedBackend {
	return &scriptedBackend{fn: func(context.Context) (parser.RawExtraction, error) {
		return parser.RawExtraction{}, err
	}}
}

func hangs() *scriptedBackend {
	return &scriptedBackend{fn: func(ctx context.Context) (parser.RawExtraction, error) {
		<-ctx.Done()
		return parser.RawExtraction{}, ctx.Err()
	}}
}

var errNotFound = status.Error(codes.NotFound, "processor not found")

type fakeLedger struct {
	mu     sync.Mutex
	runs   []models.ParseRun
	hashes map[string]string
}

func (l *fakeLedger) FindByHash(_ context.Context, hash string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.hashes[hash]
	return id, ok, nil
}

func (l *fakeLedger) Record(_ context.Context, run models.ParseRun) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return fmt.Sprintf("run-%d", len(l.runs)), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *fakePublisher) Trigger(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return "executions/1", nil
}

type fakeObjects struct {
	objects map[string][]byte
	reads   int
}

func (o *fakeObjects) ReadURI(_ context.Context, uri string, limit int64) ([]byte, error) {
	o.reads++
	if _, _, err := gcp.ParseGCSURI(uri); err != nil {
		return nil, err
	}
	data, ok := o.objects[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gcp.ErrObjectNotFound, uri)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, gcp.ErrObjectTooLarge
	}
	return data, nil
}

type env struct {
	parser    *ParserFunction
	primary   *scriptedBackend
	fallback  *scriptedBackend
	ledger    *fakeLedger
	publisher *fakePublisher
	objects   *fakeObjects
	pages     int
}

type envOption func(*processor.Options)

func newEnv(t *testing.T, primary, fallback *scriptedBackend, opts ...envOption) *env {
	t.Helper()
	e := &env{
		primary:   primary,
		fallback:  fallback,
		ledger:    &fakeLedger{hashes: map[string]string{}},
		publisher: &fakePublisher{},
		objects:   &fakeObjects{objects: map[string][]byte{}},
		pages:     1,
	}

	selOpts := processor.DefaultOptions()
	selOpts.InitialBackoff = time.Millisecond
	selOpts.MaxBackoff = time.Millisecond
	selOpts.PrimaryTimeout = 2 * time.Second
	selOpts.RequestTimeout = 5 * time.Second
	for _, o := range opts {
		o(&selOpts)
	}

	var fb *processor.Processor
	if fallback != nil {
		fb = &processor.Processor{
			Descriptor: processor.Descriptor{ID: "fallback-1", Role: processor.RoleFallback, Kind: processor.KindDocumentAI},
			Backend:    fallback,
		}
	}
	m := metrics.New("labparse")
	sel, err := processor.NewSelector(processor.Processor{
		Descriptor: processor.Descriptor{ID: "primary-1", Role: processor.RolePrimary, Kind: processor.KindDocumentAI},
		Backend:    primary,
	}, fb, selOpts, processor.WithObserver(m))
	require.NoError(t, err)

	pipeline, err := parser.New(parser.DefaultConfig())
	require.NoError(t, err)

	p, err := NewParserWith(Dependencies{
		Selector:  sel,
		Pipeline:  pipeline,
		Metrics:   m,
		Objects:   e.objects,
		Ledger:    e.ledger,
		Publisher: e.publisher,
		PageCounter: func(rs io.ReadSeeker) (int, error) {
			return e.pages, nil
		},
		Limits: ParserConfig{MaxPages: 30, MaxPayloadBytes: 1 << 20},
	})
	require.NoError(t, err)
	e.parser = p
	return e
}

func inline(pdf []byte) *models.ParseRequest {
	return &models.ParseRequest{PDFBase64: base64.StdEncoding.EncodeToString(pdf)}
}
