package processor

import (
	"context"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeDocAI struct {
	lastReq   *documentaipb.ProcessRequest
	resp      *documentaipb.ProcessResponse
	err       error
	processor *documentaipb.Processor
}

func (f *fakeDocAI) ProcessDocument(_ context.Context, req *documentaipb.ProcessRequest, _ ...gax.CallOption) (*documentaipb.ProcessResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeDocAI) GetProcessor(_ context.Context, _ *documentaipb.GetProcessorRequest, _ ...gax.CallOption) (*documentaipb.Processor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.processor, nil
}

func segment(start, end int64) *documentaipb.Document_TextAnchor {
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}},
	}
}

func box(x0, y0, x1, y1 float32) *documentaipb.BoundingPoly {
	return &documentaipb.BoundingPoly{NormalizedVertices: []*documentaipb.NormalizedVertex{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
	}}
}

func token(start, end int64, poly *documentaipb.BoundingPoly, conf float32) *documentaipb.Document_Page_Token {
	return &documentaipb.Document_Page_Token{Layout: &documentaipb.Document_Page_Layout{
		TextAnchor:   segment(start, end),
		BoundingPoly: poly,
		Confidence:   conf,
	}}
}

func layoutDocument() *documentaipb.Document {
	// "Leukozyten" 0-10, "6,8" 11-14, "G/l" 15-18
	return &documentaipb.Document{
		Text: "Leukozyten 6,8 G/l\n",
		Pages: []*documentaipb.Document_Page{{
			PageNumber: 1,
			Tokens: []*documentaipb.Document_Page_Token{
				token(0, 10, box(0.10, 0.20, 0.25, 0.22), 0.9),
				token(11, 14, box(0.40, 0.20, 0.45, 0.22), 0.8),
				token(15, 18, box(0.50, 0.20, 0.55, 0.22), 0.7),
			},
		}},
	}
}

func TestExtractionFromLayout(t *testing.T) {
	raw := extractionFromDocument(layoutDocument())

	assert.Equal(t, 1, raw.PageCount)
	assert.Equal(t, "Leukozyten 6,8 G/l\n", raw.Text)
	require.Len(t, raw.Tokens, 3)
	assert.Equal(t, "Leukozyten", raw.Tokens[0].Text)
	assert.Equal(t, 1, raw.Tokens[0].Page)
	assert.InDelta(t, 0.10, raw.Tokens[0].X, 1e-6)
	assert.InDelta(t, 0.21, raw.Tokens[0].Y, 1e-6)
	assert.Equal(t, "G/l", raw.Tokens[2].Text)
	assert.InDelta(t, 0.8, raw.Confidence, 1e-6)
	assert.Empty(t, raw.Rows)
}

func TestExtractionUsesPixelVertices(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "Ferritin",
		Pages: []*documentaipb.Document_Page{{
			Dimension: &documentaipb.Document_Page_Dimension{Width: 1000, Height: 2000},
			Tokens: []*documentaipb.Document_Page_Token{{Layout: &documentaipb.Document_Page_Layout{
				TextAnchor: segment(0, 8),
				BoundingPoly: &documentaipb.BoundingPoly{Vertices: []*documentaipb.Vertex{
					{X: 100, Y: 400}, {X: 300, Y: 400}, {X: 300, Y: 440}, {X: 100, Y: 440},
				}},
			}}},
		}},
	}
	raw := extractionFromDocument(doc)
	require.Len(t, raw.Tokens, 1)
	assert.Equal(t, 1, raw.Tokens[0].Page, "page number falls back to position")
	assert.InDelta(t, 0.1, raw.Tokens[0].X, 1e-6)
	assert.InDelta(t, 0.21, raw.Tokens[0].Y, 1e-6)
	assert.InDelta(t, defaultConfidence, raw.Confidence, 1e-9)
}

func TestExtractionFromEntities(t *testing.T) {
	prop := func(typ, text string) *documentaipb.Document_Entity {
		return &documentaipb.Document_Entity{Type: typ, MentionText: text}
	}
	doc := &documentaipb.Document{
		Text: "Ferritin 12 µg/l 15-150",
		Entities: []*documentaipb.Document_Entity{
			{
				Type:       "lab_result",
				Confidence: 0.96,
				Properties: []*documentaipb.Document_Entity{
					prop("test_name", "Ferritin"),
					prop("result_value", "12"),
					prop("unit", "µg/l"),
					prop("reference_range", "15-150"),
				},
			},
			{Type: "patient_name", Confidence: 0.5, MentionText: "Muster"},
		},
	}
	raw := extractionFromDocument(doc)
	require.Len(t, raw.Rows, 1)
	assert.Equal(t, parser.EntityRow{Name: "Ferritin", Value: "12", Unit: "µg/l", Range: "15-150"}, raw.Rows[0])
	assert.InDelta(t, 0.73, raw.Confidence, 1e-6)
}

func TestAnchorTextIsRuneIndexed(t *testing.T) {
	text := []rune("Zink µg/l")
	assert.Equal(t, "µg/l", anchorText(text, segment(5, 9)))
	assert.Equal(t, "", anchorText(text, segment(5, 99)))
	assert.Equal(t, "", anchorText(text, nil))
}

func TestDocumentAIBackendProcess(t *testing.T) {
	client := &fakeDocAI{resp: &documentaipb.ProcessResponse{Document: layoutDocument()}}
	b := NewDocumentAIBackend(map[string]DocumentAIClient{"eu": client})
	d := Descriptor{ID: "abc", ProjectID: "lab", Location: "eu"}

	raw, err := b.Process(context.Background(), d, Document{Content: []byte("%PDF-1.7")})
	require.NoError(t, err)
	assert.Len(t, raw.Tokens, 3)
	assert.Equal(t, "projects/lab/locations/eu/processors/abc", client.lastReq.GetName())
	assert.Equal(t, "application/pdf", client.lastReq.GetRawDocument().GetMimeType())

	_, err = b.Process(context.Background(), Descriptor{ID: "x", Location: "us"}, Document{})
	assert.Equal(t, FailureNotFound, Classify(err))

	client.err = status.Error(codes.InvalidArgument, "unsupported file")
	_, err = b.Process(context.Background(), d, Document{})
	assert.Equal(t, FailureMalformedInput, Classify(err))
}

func TestDocumentAIBackendProbe(t *testing.T) {
	client := &fakeDocAI{processor: &documentaipb.Processor{State: documentaipb.Processor_ENABLED}}
	b := NewDocumentAIBackend(map[string]DocumentAIClient{"eu": client})
	d := Descriptor{ID: "abc", ProjectID: "lab", Location: "eu"}

	assert.NoError(t, b.Probe(context.Background(), d))

	client.processor = &documentaipb.Processor{State: documentaipb.Processor_DISABLED}
	err := b.Probe(context.Background(), d)
	assert.Equal(t, FailureNotFound, Classify(err))
}
