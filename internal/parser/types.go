// Package parser turns the raw text of a German laboratory report into
// categorized, range-checked marker records.
package parser

// Category is the clinical grouping a marker is reported under.
type Category string

const (
	CategoryHematology          Category = "hematology"
	CategoryClinicalChemistry   Category = "clinical_chemistry"
	CategoryImmunology          Category = "immunology"
	CategoryMetalsTraceElements Category = "metals_trace_elements"
	CategoryMicronutrients      Category = "micronutrients"
	CategoryFattyAcids          Category = "fatty_acids"
	CategoryQuotients           Category = "quotients"
	CategoryUncategorized       Category = "uncategorized"
)

// Categories lists every reportable category in output order.
var Categories = []Category{
	CategoryHematology,
	CategoryClinicalChemistry,
	CategoryImmunology,
	CategoryMetalsTraceElements,
	CategoryMicronutrients,
	CategoryFattyAcids,
	CategoryQuotients,
	CategoryUncategorized,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// SubGroup refines the fatty_acids category.
type SubGroup string

const (
	SubGroupNone            SubGroup = ""
	SubGroupOmega3          SubGroup = "omega_3"
	SubGroupOmega6          SubGroup = "omega_6"
	SubGroupMonounsaturated SubGroup = "monounsaturated"
	SubGroupTrans           SubGroup = "trans"
	SubGroupSaturated       SubGroup = "saturated"
)

// Valid reports whether s is a known fatty-acid sub-group.
func (s SubGroup) Valid() bool {
	switch s {
	case SubGroupOmega3, SubGroupOmega6, SubGroupMonounsaturated, SubGroupTrans, SubGroupSaturated:
		return true
	}
	return false
}

// Flag is the position of a result relative to its reference range.
type Flag string

const (
	FlagNormal  Flag = "normal"
	FlagLow     Flag = "low"
	FlagHigh    Flag = "high"
	FlagUnknown Flag = "unknown"
)

// Token is one positioned word of upstream OCR output. X and Y are the
// normalized (0..1) left edge and vertical centre on the page.
type Token struct {
	Text string
	Page int
	X    float64
	Y    float64
}

// EntityRow is a table row already labelled by a trained extractor.
type EntityRow struct {
	Name  string
	Value string
	Unit  string
	Range string
}

// RawExtraction is what an upstream processor returned for one document.
// Rows take precedence over Tokens, Tokens over Text.
type RawExtraction struct {
	Text        string
	Tokens      []Token
	Rows        []EntityRow
	PageCount   int
	Confidence  float64
	ProcessorID string
}

// CandidateLine is one row that has the shape of a lab result.
type CandidateLine struct {
	LineNo int
	Raw    string
	Name   string
	Value  string
	Unit   string
	Range  string
	Mark   string
}

// Range is a parsed reference interval. A nil bound is open-ended.
type Range struct {
	Text           string   `json:"text,omitempty"`
	Lower          *float64 `json:"lower,omitempty"`
	Upper          *float64 `json:"upper,omitempty"`
	LowerInclusive bool     `json:"lower_inclusive,omitempty"`
	UpperInclusive bool     `json:"upper_inclusive,omitempty"`
	Known          bool     `json:"known"`
}

// MarkerRecord is a single classified and flagged lab result.
type MarkerRecord struct {
	Test           string    `json:"test"`
	Result         string    `json:"result"`
	Value          *float64  `json:"value,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange Range     `json:"reference_range"`
	Flag           Flag      `json:"flag"`
	SubGroup       SubGroup  `json:"sub_group,omitempty"`
	Critical       bool      `json:"critical,omitempty"`
	Category       Category  `json:"-"`
	Match          MatchKind `json:"-"`
}
