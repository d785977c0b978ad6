package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hämoglobin", "haemoglobin"},
		{"Calcium i.S.", "calcium"},
		{"Magnesium i.Vb.", "magnesium"},
		{"Zink im Vollblut", "zink"},
		{"25-OH-Vitamin D", "25 oh vitamin d"},
		{"Café", "cafe"},
		{"  Gamma-GT  ", "gamma gt"},
		{"Gesamteiweiß", "gesamteiweiss"},
		{"Omega-6/Omega-3", "omega 6 omega 3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), tt.in)
	}
}

func TestClassifyDefaultTable(t *testing.T) {
	c := NewClassifier(DefaultAliasTable(), DefaultClassifierOptions())

	tests := []struct {
		name      string
		canonical string
		category  Category
		subGroup  SubGroup
		match     MatchKind
	}{
		{"Leukozyten", "Leukozyten", CategoryHematology, SubGroupNone, MatchExact},
		{"Haemoglobin", "Hämoglobin", CategoryHematology, SubGroupNone, MatchExact},
		{"Leukozten", "Leukozyten", CategoryHematology, SubGroupNone, MatchFuzzy},
		{"Ferritn", "Ferritin", CategoryClinicalChemistry, SubGroupNone, MatchFuzzy},
		{"Calcium i.S.", "Calcium", CategoryMetalsTraceElements, SubGroupNone, MatchExact},
		{"Folsaeure", "Folsäure", CategoryMicronutrients, SubGroupNone, MatchExact},
		{"CRP", "CRP", CategoryImmunology, SubGroupNone, MatchExact},
		{"EPA", "Eicosapentaensäure", CategoryFattyAcids, SubGroupOmega3, MatchExact},
		{"Ölsäure", "Ölsäure", CategoryFattyAcids, SubGroupMonounsaturated, MatchExact},
		{"C16:0", "Palmitinsäure", CategoryFattyAcids, SubGroupSaturated, MatchExact},
		{"AA/EPA", "AA/EPA-Quotient", CategoryQuotients, SubGroupNone, MatchExact},
		{"TSH basal", "TSH", CategoryClinicalChemistry, SubGroupNone, MatchExact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.name)
			assert.Equal(t, tt.canonical, got.Canonical)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.subGroup, got.SubGroup)
			assert.Equal(t, tt.match, got.Match)
		})
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := NewClassifier(DefaultAliasTable(), DefaultClassifierOptions())
	got := c.Classify("  Xyzmarker ")
	assert.Equal(t, "Xyzmarker", got.Canonical)
	assert.Equal(t, CategoryUncategorized, got.Category)
	assert.Equal(t, MatchNone, got.Match)
}

func TestClassifyExactBeatsFuzzyAndTiesKeepOrder(t *testing.T) {
	table, err := NewAliasTable([]AliasEntry{
		{Canonical: "First", Category: CategoryHematology, Aliases: []string{"abcdefgh"}},
		{Canonical: "Second", Category: CategoryImmunology, Aliases: []string{"abcdefgi"}},
	})
	require.NoError(t, err)
	c := NewClassifier(table, DefaultClassifierOptions())

	exact := c.Classify("abcdefgi")
	assert.Equal(t, "Second", exact.Canonical)
	assert.Equal(t, MatchExact, exact.Match)

	tie := c.Classify("abcdefgz")
	assert.Equal(t, "First", tie.Canonical)
	assert.Equal(t, MatchFuzzy, tie.Match)
	assert.Equal(t, 1, tie.Distance)
}

func TestClassifyFuzzyThresholds(t *testing.T) {
	table, err := NewAliasTable([]AliasEntry{
		{Canonical: "Zink", Category: CategoryMetalsTraceElements},
		{Canonical: "Abc", Category: CategoryHematology},
		{Canonical: "Holotranscobalamin", Category: CategoryMicronutrients},
	})
	require.NoError(t, err)
	c := NewClassifier(table, DefaultClassifierOptions())

	// floor(4 * 0.2) leaves no edit budget for short aliases
	assert.Equal(t, MatchNone, c.Classify("Zinc").Match)
	assert.Equal(t, MatchNone, c.Classify("Abd").Match)

	// capped by MaxEditDistance
	assert.Equal(t, MatchFuzzy, c.Classify("Holotranscobalmin").Match)
	assert.Equal(t, MatchNone, c.Classify("Holtrnscoblmn").Match)

	strict := NewClassifier(table, ClassifierOptions{MaxEditDistance: 0, MaxEditRatio: 0.2, MinFuzzyLength: 4})
	assert.Equal(t, MatchNone, strict.Classify("Holotranscobalmin").Match)

	// names that differ only in a number are different analytes
	def := NewClassifier(DefaultAliasTable(), DefaultClassifierOptions())
	for _, name := range []string{"Interleukin-8", "Vitamin B3", "Vitamin B5", "C22:5n6", "C20:3n3"} {
		got := def.Classify(name)
		assert.Equal(t, CategoryUncategorized, got.Category, name)
		assert.Equal(t, MatchNone, got.Match, name)
	}
	assert.Equal(t, MatchFuzzy, def.Classify("Interleukn-6").Match)
}

func TestClassifyWordOrder(t *testing.T) {
	c := NewClassifier(DefaultAliasTable(), DefaultClassifierOptions())

	for _, name := range []string{"Vitamin D3 (25-OH)", "Vitamin D (25-OH)"} {
		got := c.Classify(name)
		assert.Equal(t, "Vitamin D", got.Canonical, name)
		assert.Equal(t, MatchExact, got.Match, name)
	}

	// ratios keep their direction
	assert.Equal(t, CategoryUncategorized, c.Classify("HDL/LDL").Category)
}
