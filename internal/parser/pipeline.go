package parser

import (
	"fmt"
	"iter"
	"strings"
)

// Config bundles the immutable tables and tunables of a Pipeline.
type Config struct {
	Aliases    *AliasTable
	Normalizer NormalizerOptions
	Segmenter  SegmenterOptions
	Classifier ClassifierOptions
	Weights    Weights
}

// DefaultConfig uses the embedded alias table and the stock tunables.
func DefaultConfig() Config {
	return Config{
		Aliases:    DefaultAliasTable(),
		Normalizer: DefaultNormalizerOptions(),
		Segmenter:  DefaultSegmenterOptions(),
		Classifier: DefaultClassifierOptions(),
		Weights:    DefaultWeights(),
	}
}

// Pipeline runs normalization, segmentation, classification, range
// parsing and aggregation over one RawExtraction. It is pure and safe for
// concurrent use.
type Pipeline struct {
	normalizer *Normalizer
	segmenter  *Segmenter
	classifier *Classifier
	aggregator *Aggregator
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Aliases == nil {
		return nil, fmt.Errorf("pipeline: alias table is required")
	}
	if cfg.Classifier.MaxEditDistance < 0 || cfg.Classifier.MaxEditRatio < 0 {
		return nil, fmt.Errorf("pipeline: fuzzy thresholds must not be negative")
	}
	w := cfg.Weights
	if w.Upstream < 0 || w.Classified < 0 || w.Segmentation < 0 || w.Upstream+w.Classified+w.Segmentation == 0 {
		return nil, fmt.Errorf("pipeline: confidence weights must be non-negative and not all zero")
	}
	return &Pipeline{
		normalizer: NewNormalizer(cfg.Normalizer),
		segmenter:  NewSegmenter(cfg.Segmenter),
		classifier: NewClassifier(cfg.Aliases, cfg.Classifier),
		aggregator: NewAggregator(cfg.Weights),
	}, nil
}

// Classifier exposes the pipeline's name resolver.
func (p *Pipeline) Classifier() *Classifier { return p.classifier }

// Run never fails: local problems lower the confidence and show up in the
// diagnostics instead.
func (p *Pipeline) Run(raw RawExtraction) ExtractionResult {
	b := p.aggregator.newBuilder()
	var norm NormalizeStats
	var seg SegmentStats

	for cl := range p.candidates(raw, &norm, &seg) {
		b.add(p.record(cl, &b.diag))
	}

	b.diag.NormalizationUnresolved = norm.Unresolved
	b.diag.Substitutions = norm.Substitutions
	b.diag.CandidateLines = seg.Candidates
	b.diag.SkippedLines = seg.Skipped
	return b.finish(raw)
}

func (p *Pipeline) candidates(raw RawExtraction, norm *NormalizeStats, seg *SegmentStats) iter.Seq[CandidateLine] {
	if len(raw.Rows) > 0 {
		return p.entityRows(raw.Rows, norm, seg)
	}
	text := raw.Text
	if len(raw.Tokens) > 0 {
		text = p.segmenter.JoinRows(raw.Tokens)
	}
	normalized, st := p.normalizer.Normalize(text)
	norm.add(st)
	return p.segmenter.Lines(normalized, seg)
}

// entityRows skips segmentation for rows a trained extractor has already
// split into columns.
func (p *Pipeline) entityRows(rows []EntityRow, norm *NormalizeStats, seg *SegmentStats) iter.Seq[CandidateLine] {
	return func(yield func(CandidateLine) bool) {
		for i, row := range rows {
			field := func(s string) string {
				out, st := p.normalizer.NormalizeField(s)
				norm.add(st)
				return out
			}
			cl := CandidateLine{
				LineNo: i + 1,
				Name:   field(row.Name),
				Value:  field(row.Value),
				Unit:   field(row.Unit),
				Range:  field(row.Range),
			}
			if v, mark := splitAttachedMark(cl.Value); mark != "" {
				cl.Value, cl.Mark = v, mark
			}
			cl.Raw = strings.TrimSpace(strings.Join([]string{cl.Name, cl.Value, cl.Unit, cl.Range}, " "))
			if cl.Name == "" || cl.Value == "" || !p.segmenter.validName(cl.Name) {
				seg.Skipped++
				continue
			}
			seg.Candidates++
			if !yield(cl) {
				return
			}
		}
	}
}

func (p *Pipeline) record(cl CandidateLine, diag *Diagnostics) MarkerRecord {
	c := p.classifier.Classify(cl.Name)
	switch c.Match {
	case MatchNone:
		diag.Unclassified++
	case MatchFuzzy:
		diag.FuzzyMatches++
	}

	rng, err := ParseRange(cl.Range)
	if err != nil {
		diag.RangeParseFailures++
	}

	rec := MarkerRecord{
		Test:           c.Canonical,
		Result:         cl.Value,
		Unit:           cl.Unit,
		ReferenceRange: rng,
		Category:       c.Category,
		SubGroup:       c.SubGroup,
		Match:          c.Match,
		Critical:       isCritical(cl.Mark),
	}
	if v, ok := ParseNumber(cl.Value); ok {
		rec.Value = &v
	}
	rec.Flag = ComputeFlag(rec.Value, rng)
	if rec.Value == nil {
		rec.Flag = CensoredFlag(cl.Value, rng)
	}
	return rec
}
