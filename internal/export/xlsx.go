// Package export renders extraction results as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/xuri/excelize/v2"
)

const (
	MarkerSheet = "Marker"
	StatsSheet  = "Statistik"
)

var markerHeaders = []string{
	"Kategorie",
	"Untergruppe",
	"Test",
	"Ergebnis",
	"Wert",
	"Einheit",
	"Referenzbereich",
	"Flag",
	"Kritisch",
}

// WriteXLSX writes one row per marker and a sheet of extraction statistics.
func WriteXLSX(w io.Writer, filename string, res parser.ExtractionResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(MarkerSheet); err != nil {
		return fmt.Errorf("xlsx new sheet: %w", err)
	}
	if _, err := f.NewSheet(StatsSheet); err != nil {
		return fmt.Errorf("xlsx new sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("xlsx delete default sheet: %w", err)
	}
	if idx, _ := f.GetSheetIndex(MarkerSheet); idx >= 0 {
		f.SetActiveSheet(idx)
	}

	for i, h := range markerHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(MarkerSheet, cell, h)
	}

	row := 2
	for rec := range res.Categories.Records() {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(MarkerSheet, cell, v)
		}
		write(1, string(rec.Category))
		write(2, string(rec.SubGroup))
		write(3, rec.Test)
		write(4, rec.Result)
		if rec.Value != nil {
			write(5, *rec.Value)
		}
		write(6, rec.Unit)
		write(7, rec.ReferenceRange.Text)
		write(8, string(rec.Flag))
		if rec.Critical {
			write(9, "ja")
		}
		row++
	}

	_ = f.SetColWidth(MarkerSheet, "A", "B", 22)
	_ = f.SetColWidth(MarkerSheet, "C", "C", 30)
	_ = f.SetColWidth(MarkerSheet, "D", "F", 12)
	_ = f.SetColWidth(MarkerSheet, "G", "G", 20)

	st, d := res.Stats, res.Diagnostics
	stats := [][2]any{
		{"Datei", filename},
		{"Prozessor", st.ProcessorID},
		{"Seiten", st.DocumentPages},
		{"Marker gesamt", st.TotalMarkersFound},
		{"Marker mit Wert", st.MarkersWithValues},
		{"Marker mit Referenz", st.MarkersWithReference},
		{"Kategorien", st.CategoriesFound},
		{"Kritische Werte", st.CriticalValues},
		{"Konfidenz", st.ExtractionConfidence},
		{"Status", st.ValidationStatus},
		{"Kandidatenzeilen", d.CandidateLines},
		{"Übersprungene Zeilen", d.SkippedLines},
		{"Nicht zugeordnet", d.Unclassified},
		{"Unscharfe Treffer", d.FuzzyMatches},
		{"Bereichsfehler", d.RangeParseFailures},
	}
	for i, kv := range stats {
		_ = f.SetCellValue(StatsSheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(StatsSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(StatsSheet, "A", "A", 24)
	_ = f.SetColWidth(StatsSheet, "B", "B", 32)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
