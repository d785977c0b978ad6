package parser

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestParseRange(t *testing.T) {
	tests := []struct {
		in       string
		lower    *float64
		upper    *float64
		lowerInc bool
		upperInc bool
		known    bool
	}{
		{"4.0-10.0", f64(4), f64(10), true, true, true},
		{"4,0 - 10,0", f64(4), f64(10), true, true, true},
		{"3 bis 5", f64(3), f64(5), true, true, true},
		{"3 – 5", f64(3), f64(5), true, true, true},
		{"(4 - 10)", f64(4), f64(10), true, true, true},
		{"1.500,0 - 4.000,0", f64(1500), f64(4000), true, true, true},
		{"< 5", nil, f64(5), false, false, true},
		{"<=5", nil, f64(5), false, true, true},
		{"≤ 5", nil, f64(5), false, true, true},
		{"bis 5", nil, f64(5), false, true, true},
		{"> 15", f64(15), nil, false, false, true},
		{">= 15", f64(15), nil, true, false, true},
		{"≥ 15", f64(15), nil, true, false, true},
		{"ab 30", f64(30), nil, true, false, true},
		{"", nil, nil, false, false, false},
		{"negativ", nil, nil, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseRange(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.known, r.Known)
			assert.Equal(t, tt.lower, r.Lower)
			assert.Equal(t, tt.upper, r.Upper)
			assert.Equal(t, tt.lowerInc, r.LowerInclusive)
			assert.Equal(t, tt.upperInc, r.UpperInclusive)
		})
	}
}

func TestParseRangeErrors(t *testing.T) {
	r, err := ParseRange("10 - 4")
	assert.ErrorIs(t, err, ErrRangeInverted)
	assert.False(t, r.Known)
	assert.Equal(t, "10 - 4", r.Text)

	for _, in := range []string{"siehe Text", "1.2,3.4 - 5", "< abc", "4 -"} {
		r, err := ParseRange(in)
		assert.ErrorIs(t, err, ErrRangeSyntax, in)
		assert.False(t, r.Known, in)
	}
}

func TestComputeFlag(t *testing.T) {
	closed, err := ParseRange("4 - 10")
	require.NoError(t, err)
	upperOpen, err := ParseRange("< 5")
	require.NoError(t, err)
	lowerOpen, err := ParseRange("> 15")
	require.NoError(t, err)
	lowerIncl, err := ParseRange(">= 15")
	require.NoError(t, err)

	tests := []struct {
		name  string
		value *float64
		r     Range
		want  Flag
	}{
		{"closed lower bound", f64(4), closed, FlagNormal},
		{"closed upper bound", f64(10), closed, FlagNormal},
		{"below closed", f64(3.9), closed, FlagLow},
		{"above closed", f64(10.1), closed, FlagHigh},
		{"at open upper", f64(5), upperOpen, FlagHigh},
		{"under open upper", f64(4.9), upperOpen, FlagNormal},
		{"at open lower", f64(15), lowerOpen, FlagLow},
		{"under open lower", f64(12), lowerOpen, FlagLow},
		{"above open lower", f64(16), lowerOpen, FlagNormal},
		{"at inclusive lower", f64(15), lowerIncl, FlagNormal},
		{"no value", nil, closed, FlagUnknown},
		{"unknown range", f64(5), Range{}, FlagUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeFlag(tt.value, tt.r))
		})
	}
}

func TestCensoredFlag(t *testing.T) {
	closed, err := ParseRange("1 - 5")
	require.NoError(t, err)
	upperOpen, err := ParseRange("< 5")
	require.NoError(t, err)
	lowerOpen, err := ParseRange("> 15")
	require.NoError(t, err)

	tests := []struct {
		result string
		r      Range
		want   Flag
	}{
		{"<0.5", upperOpen, FlagNormal},
		{"<5", upperOpen, FlagNormal},
		{"<=5", upperOpen, FlagUnknown},
		{"<8", upperOpen, FlagUnknown},
		{"<1", closed, FlagLow},
		{"<=1", closed, FlagUnknown},
		{"<3", closed, FlagUnknown},
		{"<10", lowerOpen, FlagLow},
		{">5", closed, FlagHigh},
		{">=5", closed, FlagUnknown},
		{">20", lowerOpen, FlagNormal},
		{">15", lowerOpen, FlagNormal},
		{"≥15", lowerOpen, FlagUnknown},
		{">2", closed, FlagUnknown},
		{"0.5", closed, FlagUnknown},
		{"negativ", closed, FlagUnknown},
		{"<0.5", Range{}, FlagUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CensoredFlag(tt.result, tt.r), tt.result)
	}
}

func TestComputeFlagClosedRangeProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		lo := rng.Float64()*100 - 50
		hi := lo + rng.Float64()*50
		v := rng.Float64()*200 - 100
		r := Range{Lower: &lo, Upper: &hi, LowerInclusive: true, UpperInclusive: true, Known: true}

		want := FlagNormal
		if v < lo {
			want = FlagLow
		} else if v > hi {
			want = FlagHigh
		}
		require.Equal(t, want, ComputeFlag(&v, r), "v=%v range=[%v,%v]", v, lo, hi)
	}
}

func TestRangeShaped(t *testing.T) {
	for _, s := range []string{"4.0-10.0", "< 5", "(3 - 7)", "bis 5", "negativ", "≥ 15"} {
		assert.True(t, rangeShaped(s), s)
	}
	for _, s := range []string{"", "mg/l", "siehe Befund 2", "Kommentar"} {
		assert.False(t, rangeShaped(s), s)
	}
}
