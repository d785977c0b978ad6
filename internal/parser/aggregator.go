package parser

import (
	"iter"
	"math"
	"strings"
)

// FattyAcidGroups splits fatty_acids by sub-group.
type FattyAcidGroups struct {
	Omega3          []MarkerRecord `json:"omega_3"`
	Omega6          []MarkerRecord `json:"omega_6"`
	Monounsaturated []MarkerRecord `json:"monounsaturated"`
	Trans           []MarkerRecord `json:"trans"`
	Saturated       []MarkerRecord `json:"saturated"`
}

// Groups holds the per-category marker lists. Fixed fields keep the JSON
// key order stable.
type Groups struct {
	Hematology          []MarkerRecord  `json:"hematology"`
	ClinicalChemistry   []MarkerRecord  `json:"clinical_chemistry"`
	Immunology          []MarkerRecord  `json:"immunology"`
	MetalsTraceElements []MarkerRecord  `json:"metals_trace_elements"`
	Micronutrients      []MarkerRecord  `json:"micronutrients"`
	FattyAcids          FattyAcidGroups `json:"fatty_acids"`
	Quotients           []MarkerRecord  `json:"quotients"`
	Uncategorized       []MarkerRecord  `json:"uncategorized"`
}

func newGroups() Groups {
	return Groups{
		Hematology:          []MarkerRecord{},
		ClinicalChemistry:   []MarkerRecord{},
		Immunology:          []MarkerRecord{},
		MetalsTraceElements: []MarkerRecord{},
		Micronutrients:      []MarkerRecord{},
		FattyAcids: FattyAcidGroups{
			Omega3:          []MarkerRecord{},
			Omega6:          []MarkerRecord{},
			Monounsaturated: []MarkerRecord{},
			Trans:           []MarkerRecord{},
			Saturated:       []MarkerRecord{},
		},
		Quotients:     []MarkerRecord{},
		Uncategorized: []MarkerRecord{},
	}
}

func (g *Groups) bucket(c Category, sg SubGroup) *[]MarkerRecord {
	switch c {
	case CategoryHematology:
		return &g.Hematology
	case CategoryClinicalChemistry:
		return &g.ClinicalChemistry
	case CategoryImmunology:
		return &g.Immunology
	case CategoryMetalsTraceElements:
		return &g.MetalsTraceElements
	case CategoryMicronutrients:
		return &g.Micronutrients
	case CategoryQuotients:
		return &g.Quotients
	case CategoryFattyAcids:
		switch sg {
		case SubGroupOmega3:
			return &g.FattyAcids.Omega3
		case SubGroupOmega6:
			return &g.FattyAcids.Omega6
		case SubGroupMonounsaturated:
			return &g.FattyAcids.Monounsaturated
		case SubGroupTrans:
			return &g.FattyAcids.Trans
		case SubGroupSaturated:
			return &g.FattyAcids.Saturated
		}
	}
	return &g.Uncategorized
}

// Records yields every marker in output order.
func (g *Groups) Records() iter.Seq[MarkerRecord] {
	return func(yield func(MarkerRecord) bool) {
		for _, list := range [][]MarkerRecord{
			g.Hematology, g.ClinicalChemistry, g.Immunology, g.MetalsTraceElements, g.Micronutrients,
			g.FattyAcids.Omega3, g.FattyAcids.Omega6, g.FattyAcids.Monounsaturated, g.FattyAcids.Trans, g.FattyAcids.Saturated,
			g.Quotients, g.Uncategorized,
		} {
			for _, rec := range list {
				if !yield(rec) {
					return
				}
			}
		}
	}
}

// Stats summarises one extraction.
type Stats struct {
	TotalMarkersFound    int     `json:"total_markers_found"`
	MarkersWithValues    int     `json:"markers_with_values"`
	MarkersWithReference int     `json:"markers_with_reference"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	ProcessorID          string  `json:"processor_id"`
	DocumentPages        int     `json:"document_pages"`
	CategoriesFound      int     `json:"categories_found"`
	CriticalValues       int     `json:"critical_values"`
	ValidationStatus     string  `json:"validation_status"`
}

// Diagnostics counts the local recoveries made while parsing.
type Diagnostics struct {
	NormalizationUnresolved int `json:"normalization_unresolved"`
	Substitutions           int `json:"substitutions"`
	CandidateLines          int `json:"candidate_lines"`
	SkippedLines            int `json:"skipped_lines"`
	RangeParseFailures      int `json:"range_parse_failures"`
	Unclassified            int `json:"unclassified"`
	FuzzyMatches            int `json:"fuzzy_matches"`
	DuplicateRows           int `json:"duplicate_rows"`
}

// ExtractionResult is the complete, immutable outcome for one document.
type ExtractionResult struct {
	Categories  Groups      `json:"categories"`
	Stats       Stats       `json:"extraction_stats"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Weights blend the three confidence signals. They are normalized by
// their sum.
type Weights struct {
	Upstream     float64
	Classified   float64
	Segmentation float64
}

func DefaultWeights() Weights {
	return Weights{Upstream: 0.4, Classified: 0.4, Segmentation: 0.2}
}

const (
	StatusSuccess           = "success"
	StatusLowMarkerCount    = "warning: low marker count"
	StatusLowConfidence     = "warning: low confidence"
	minMarkersForSuccess    = 5
	minConfidenceForSuccess = 50.0
)

var criticalMarks = map[string]bool{"*": true, "**": true, "↑↑": true, "↓↓": true, "!!": true, "kritisch": true}

// Aggregator turns classified rows into an ExtractionResult.
type Aggregator struct {
	weights Weights
}

func NewAggregator(w Weights) *Aggregator {
	return &Aggregator{weights: w}
}

// builder accumulates one document. It is not shared between requests.
type builder struct {
	agg          *Aggregator
	groups       Groups
	seen         map[string]struct{}
	diag         Diagnostics
	classifiedOK int
}

func (a *Aggregator) newBuilder() *builder {
	return &builder{agg: a, groups: newGroups(), seen: make(map[string]struct{})}
}

func (b *builder) add(rec MarkerRecord) {
	if rec.Category != CategoryUncategorized && rec.ReferenceRange.Known {
		b.classifiedOK++
	}
	key := string(rec.Category) + "\x00" + string(rec.SubGroup) + "\x00" + rec.Test + "\x00" + rec.Result + "\x00" + rec.Unit
	if _, dup := b.seen[key]; dup {
		b.diag.DuplicateRows++
		return
	}
	b.seen[key] = struct{}{}
	list := b.groups.bucket(rec.Category, rec.SubGroup)
	*list = append(*list, rec)
}

func (b *builder) finish(raw RawExtraction) ExtractionResult {
	res := ExtractionResult{Categories: b.groups, Diagnostics: b.diag}
	st := &res.Stats
	st.ProcessorID = raw.ProcessorID
	st.DocumentPages = raw.PageCount

	nonEmpty := map[Category]bool{}
	for rec := range res.Categories.Records() {
		st.TotalMarkersFound++
		if rec.Value != nil {
			st.MarkersWithValues++
		}
		if rec.ReferenceRange.Text != "" {
			st.MarkersWithReference++
		}
		if rec.Critical {
			st.CriticalValues++
		}
		if rec.Category != CategoryUncategorized {
			nonEmpty[rec.Category] = true
		}
	}
	st.CategoriesFound = len(nonEmpty)
	st.ExtractionConfidence = b.agg.confidence(raw.Confidence, b.classifiedOK, res.Diagnostics.CandidateLines, res.Diagnostics.SkippedLines)

	switch {
	case st.TotalMarkersFound < minMarkersForSuccess:
		st.ValidationStatus = StatusLowMarkerCount
	case st.ExtractionConfidence < minConfidenceForSuccess:
		st.ValidationStatus = StatusLowConfidence
	default:
		st.ValidationStatus = StatusSuccess
	}
	return res
}

func (a *Aggregator) confidence(upstream float64, classifiedOK, candidates, skipped int) float64 {
	w := a.weights
	total := w.Upstream + w.Classified + w.Segmentation
	if total <= 0 {
		return 0
	}
	upstream = math.Max(0, math.Min(1, upstream))
	var classified, segmentation float64
	if candidates > 0 {
		classified = float64(classifiedOK) / float64(candidates)
		segmentation = float64(candidates) / float64(candidates+skipped)
	}
	score := 100 * (w.Upstream*upstream + w.Classified*classified + w.Segmentation*segmentation) / total
	return math.Round(score*10) / 10
}

func isCritical(mark string) bool {
	for _, m := range strings.Fields(mark) {
		if criticalMarks[strings.ToLower(m)] {
			return true
		}
	}
	return false
}
