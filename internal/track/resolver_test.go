package track

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"routerisk/internal/model"
)

func writeCSV(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveCSVWithHeader(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "1527_0041.csv",
		"Latitude,Longitude\n21.1,79.1\n21.2,79.2\nbad,row\n99.0,200.0\n21.3,79.3\n")
	r := NewResolver(dir, 0)
	seq, err := r.Resolve(model.WorkItem{FromCode: "1527", ToCode: "0041"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(seq.Points) != 3 {
		t.Fatalf("got %d points, want 3 (bad and out-of-range rows dropped)", len(seq.Points))
	}
	if seq.RowsRead != 5 {
		t.Fatalf("rows read = %d, want 5", seq.RowsRead)
	}
	if seq.Points[2].Order != 2 {
		t.Fatalf("orders not sequential: %+v", seq.Points)
	}
}

func TestResolveHyphenVariant(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "A-B.csv", "lat,lng\n21.1,79.1\n21.2,79.2\n")
	seq, err := NewResolver(dir, 0).Resolve(model.WorkItem{FromCode: "A", ToCode: "B"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(seq.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(seq.Points))
	}
}

func TestResolveBarePairsAndMixedRows(t *testing.T) {
	dir := t.TempDir()
	// No header: rows of 2 and 4 numeric values, one odd 3-value row.
	writeCSV(t, dir, "X_Y.csv",
		"21.1,79.1\n21.2,79.2,21.3,79.3\n21.4,79.4,9999\n")
	seq, err := NewResolver(dir, 0).Resolve(model.WorkItem{FromCode: "X", ToCode: "Y"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(seq.Points) != 4 {
		t.Fatalf("got %d points, want 4 (pair + double pair + leading pair)", len(seq.Points))
	}
}

func TestResolvePointCap(t *testing.T) {
	dir := t.TempDir()
	content := "lat,lon\n"
	for i := 0; i < 50; i++ {
		content += fmt.Sprintf("21.%03d,79.0\n", i)
	}
	writeCSV(t, dir, "C_D.csv", content)
	seq, err := NewResolver(dir, 10).Resolve(model.WorkItem{FromCode: "C", ToCode: "D"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(seq.Points) != 10 {
		t.Fatalf("cap not applied: got %d points", len(seq.Points))
	}
}

func TestResolveExcel(t *testing.T) {
	dir := t.TempDir()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetCellValue(sheet, "A1", "Latitude")
	_ = f.SetCellValue(sheet, "B1", "Longitude")
	for i := 0; i < 3; i++ {
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", i+2), 21.1+float64(i)*0.1)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", i+2), 79.1+float64(i)*0.1)
	}
	if err := f.SaveAs(filepath.Join(dir, "1527_0042.xlsx")); err != nil {
		t.Fatal(err)
	}
	seq, err := NewResolver(dir, 0).Resolve(model.WorkItem{FromCode: "1527", ToCode: "0042"})
	if err != nil {
		t.Fatalf("resolve xlsx: %v", err)
	}
	if len(seq.Points) != 3 {
		t.Fatalf("got %d points, want 3", len(seq.Points))
	}
}

func TestResolveErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewResolver(dir, 0).Resolve(model.WorkItem{FromCode: "no", ToCode: "file"})
	if !errors.Is(err, ErrInputFileNotFound) {
		t.Fatalf("want ErrInputFileNotFound, got %v", err)
	}

	writeCSV(t, dir, "E_F.csv", "lat,lng\n21.1,79.1\n")
	_, err = NewResolver(dir, 0).Resolve(model.WorkItem{FromCode: "E", ToCode: "F"})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("want ErrInsufficientData for single point, got %v", err)
	}
}
