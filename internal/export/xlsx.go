// Package export renders an analysis as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/asil/internal/analysis"
	"github.com/hyperjump/asil/internal/links"
	"github.com/hyperjump/asil/internal/models"
)

// Sheet names, in workbook order.
const (
	SheetSummary  = "Summary"
	SheetEntities = "Entities"
	SheetImages   = "Images"
	SheetLabels   = "Labels"
)

// Image kinds written to the Images sheet.
const (
	KindFullMatch     = "full match"
	KindVisualSimilar = "visually similar"
	KindPage          = "matching page"
)

// ContentType is the MIME type of the workbook WriteXLSX produces.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileName returns the download name for the workbook of a.
func FileName(a *models.Analysis) string {
	base := a.FileName
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = a.ID
	}
	return base + "-analysis.xlsx"
}

// WriteXLSX writes the workbook for a to w.
func WriteXLSX(w io.Writer, a *models.Analysis) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetEntities, SheetImages, SheetLabels} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	if err := writeSummary(f, a, header); err != nil {
		return err
	}
	if err := writeEntities(f, a.Model.Entities, header); err != nil {
		return err
	}
	if err := writeImages(f, a.Model, header); err != nil {
		return err
	}
	if err := writeLabels(f, a.Model.BestGuessLabels, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeSummary(f *excelize.File, a *models.Analysis, header int) error {
	top := ""
	if e, ok := a.Model.TopEntity(); ok {
		top = fmt.Sprintf("%s (%.2f)", e.Name, e.Score)
	}
	rows := [][]interface{}{
		{"Field", "Value"},
		{"ID", a.ID},
		{"File", a.FileName},
		{"Size (bytes)", a.SizeBytes},
		{"Type", a.MimeType},
		{"Analysed at", a.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		{"Top entity", top},
		{"Entities", len(a.Model.Entities)},
		{"Full matching images", len(a.Model.FullMatchingImages)},
		{"Visually similar images", len(a.Model.VisuallySimilarImages)},
		{"Pages with matching images", len(a.Model.MatchingPages)},
		{"Best guess labels", strings.Join(a.Model.BestGuessLabels, ", ")},
	}
	if err := writeRows(f, SheetSummary, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "B", "B", 60); err != nil {
		return err
	}
	return f.SetCellStyle(SheetSummary, "A1", "B1", header)
}

func writeEntities(f *excelize.File, entities []analysis.EntityScore, header int) error {
	rows := [][]interface{}{{"Entity", "Score", "Tier"}}
	for _, e := range entities {
		rows = append(rows, []interface{}{e.Name, e.Score, string(analysis.ScoreTier(e.Score))})
	}
	if err := writeRows(f, SheetEntities, rows); err != nil {
		return err
	}

	styles := make(map[analysis.Tier]int)
	for i, e := range entities {
		tier := analysis.ScoreTier(e.Score)
		style, ok := styles[tier]
		if !ok {
			var err error
			style, err = f.NewStyle(&excelize.Style{
				Fill:   excelize.Fill{Type: "pattern", Color: []string{strings.ToUpper(tier.Color())}, Pattern: 1},
				Font:   &excelize.Font{Color: "#FFFFFF", Bold: true},
				NumFmt: 2,
			})
			if err != nil {
				return fmt.Errorf("failed to create tier style: %w", err)
			}
			styles[tier] = style
		}
		cell, err := excelize.CoordinatesToCellName(2, i+2)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetEntities, cell, cell, style); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SheetEntities, "A", "A", 40); err != nil {
		return err
	}
	return f.SetCellStyle(SheetEntities, "A1", "C1", header)
}

func writeImages(f *excelize.File, m analysis.DisplayModel, header int) error {
	rows := [][]interface{}{{"Kind", "URL", "Site"}}
	groups := []struct {
		kind string
		urls []string
	}{
		{KindFullMatch, m.FullMatchingImages},
		{KindVisualSimilar, m.VisuallySimilarImages},
		{KindPage, m.MatchingPages},
	}
	for _, g := range groups {
		for _, u := range g.urls {
			rows = append(rows, []interface{}{g.kind, u, links.DomainLabel(u)})
		}
	}
	if err := writeRows(f, SheetImages, rows); err != nil {
		return err
	}
	for i := 1; i < len(rows); i++ {
		u := rows[i][1].(string)
		if strings.HasPrefix(u, "data:") {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(2, i+1)
		if err != nil {
			return err
		}
		if err := f.SetCellHyperLink(SheetImages, cell, u, "External"); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(SheetImages, "A", "A", 18); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetImages, "B", "B", 80); err != nil {
		return err
	}
	return f.SetCellStyle(SheetImages, "A1", "C1", header)
}

func writeLabels(f *excelize.File, labels []string, header int) error {
	rows := [][]interface{}{{"Label"}}
	for _, l := range labels {
		rows = append(rows, []interface{}{l})
	}
	if err := writeRows(f, SheetLabels, rows); err != nil {
		return err
	}
	return f.SetCellStyle(SheetLabels, "A1", "A1", header)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
