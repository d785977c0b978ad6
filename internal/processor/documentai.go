package processor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/googleapis/gax-go/v2"
)

// defaultConfidence is used when the response carries no confidence at all.
const defaultConfidence = 0.85

// DocumentAIClient is the subset of the Document AI client used here.
type DocumentAIClient interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	GetProcessor(ctx context.Context, req *documentaipb.GetProcessorRequest, opts ...gax.CallOption) (*documentaipb.Processor, error)
}

// DocumentAIBackend serves descriptors of KindDocumentAI. Document AI
// endpoints are regional, so clients are keyed by location.
type DocumentAIBackend struct {
	clients map[string]DocumentAIClient
}

func NewDocumentAIBackend(clients map[string]DocumentAIClient) *DocumentAIBackend {
	return &DocumentAIBackend{clients: clients}
}

func (b *DocumentAIBackend) client(d Descriptor) (DocumentAIClient, error) {
	c, ok := b.clients[d.Location]
	if !ok {
		return nil, NewFailure(FailureNotFound, d.ID, fmt.Errorf("no Document AI client for location %q", d.Location))
	}
	return c, nil
}

func (b *DocumentAIBackend) Process(ctx context.Context, d Descriptor, doc Document) (parser.RawExtraction, error) {
	c, err := b.client(d)
	if err != nil {
		return parser.RawExtraction{}, err
	}
	mime := doc.MIMEType
	if mime == "" {
		mime = "application/pdf"
	}
	req := &documentaipb.ProcessRequest{
		Name: d.ResourceName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  doc.Content,
				MimeType: mime,
			},
		},
	}
	resp, err := c.ProcessDocument(ctx, req)
	if err != nil {
		return parser.RawExtraction{}, fmt.Errorf("documentai process %s: %w", d.ID, err)
	}
	if resp.GetDocument() == nil {
		return parser.RawExtraction{}, NewFailure(FailureUnavailable, d.ID, fmt.Errorf("empty document in response"))
	}
	return extractionFromDocument(resp.GetDocument()), nil
}

// Probe checks that the processor exists and is enabled.
func (b *DocumentAIBackend) Probe(ctx context.Context, d Descriptor) error {
	c, err := b.client(d)
	if err != nil {
		return err
	}
	p, err := c.GetProcessor(ctx, &documentaipb.GetProcessorRequest{Name: d.ResourceName()})
	if err != nil {
		return fmt.Errorf("documentai get processor %s: %w", d.ID, err)
	}
	if p.GetState() != documentaipb.Processor_ENABLED {
		return NewFailure(FailureNotFound, d.ID, fmt.Errorf("processor state is %s", p.GetState()))
	}
	return nil
}

func extractionFromDocument(doc *documentaipb.Document) parser.RawExtraction {
	text := []rune(doc.GetText())
	raw := parser.RawExtraction{
		Text:      doc.GetText(),
		PageCount: len(doc.GetPages()),
	}

	var layoutConf float64
	var layoutN int
	for pi, page := range doc.GetPages() {
		pageNo := int(page.GetPageNumber())
		if pageNo == 0 {
			pageNo = pi + 1
		}
		for _, tok := range page.GetTokens() {
			layout := tok.GetLayout()
			s := strings.TrimSpace(anchorText(text, layout.GetTextAnchor()))
			if s == "" {
				continue
			}
			x, y, ok := position(layout.GetBoundingPoly(), page.GetDimension())
			if !ok {
				continue
			}
			raw.Tokens = append(raw.Tokens, parser.Token{Text: s, Page: pageNo, X: x, Y: y})
			if c := layout.GetConfidence(); c > 0 {
				layoutConf += float64(c)
				layoutN++
			}
		}
	}

	var entityConf float64
	var entityN int
	for _, e := range doc.GetEntities() {
		if c := e.GetConfidence(); c > 0 {
			entityConf += float64(c)
			entityN++
		}
		if row, ok := entityRow(text, e); ok {
			raw.Rows = append(raw.Rows, row)
		}
	}

	switch {
	case entityN > 0:
		raw.Confidence = entityConf / float64(entityN)
	case layoutN > 0:
		raw.Confidence = layoutConf / float64(layoutN)
	default:
		raw.Confidence = defaultConfidence
	}
	return raw
}

// entityRow reads a lab-result entity whose properties carry the columns.
func entityRow(text []rune, e *documentaipb.Document_Entity) (parser.EntityRow, bool) {
	if len(e.GetProperties()) == 0 {
		return parser.EntityRow{}, false
	}
	var row parser.EntityRow
	for _, p := range e.GetProperties() {
		v := p.GetMentionText()
		if v == "" {
			v = anchorText(text, p.GetTextAnchor())
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(p.GetType()) {
		case "test_name", "name", "marker":
			row.Name = v
		case "result_value", "result", "value":
			row.Value = v
		case "unit":
			row.Unit = v
		case "reference_range", "range":
			row.Range = v
		}
	}
	return row, row.Name != "" && row.Value != ""
}

func anchorText(text []rune, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		b.WriteString(string(text[start:end]))
	}
	return b.String()
}

// position returns the left edge and vertical centre in page-relative
// units.
func position(poly *documentaipb.BoundingPoly, dim *documentaipb.Document_Page_Dimension) (float64, float64, bool) {
	if nv := poly.GetNormalizedVertices(); len(nv) > 0 {
		minX, sumY := math.MaxFloat64, 0.0
		for _, v := range nv {
			minX = math.Min(minX, float64(v.GetX()))
			sumY += float64(v.GetY())
		}
		return minX, sumY / float64(len(nv)), true
	}
	vs := poly.GetVertices()
	if len(vs) == 0 || dim.GetWidth() <= 0 || dim.GetHeight() <= 0 {
		return 0, 0, false
	}
	minX, sumY := math.MaxFloat64, 0.0
	for _, v := range vs {
		minX = math.Min(minX, float64(v.GetX())/float64(dim.GetWidth()))
		sumY += float64(v.GetY()) / float64(dim.GetHeight())
	}
	return minX, sumY / float64(len(vs)), true
}
