// Package track resolves and parses per-route GPS track files and provides the
// geometry helpers used when summarizing them.
package track

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"routerisk/internal/model"
)

var (
	// ErrInputFileNotFound means no candidate track file exists for the item.
	ErrInputFileNotFound = errors.New("input file not found")
	// ErrInsufficientData means the file yielded fewer than two valid points.
	ErrInsufficientData = errors.New("insufficient track data")
)

// Sequence is a parsed track: the valid points plus how many data rows the
// file held, which drives the quality classification downstream.
type Sequence struct {
	Points   []model.TrackPoint
	RowsRead int
}

// Resolver locates an item's track file and parses it into a point sequence.
type Resolver struct {
	FolderPath string
	// MaxPoints caps how many valid points are read per file; excess rows are
	// ignored rather than erroring.
	MaxPoints int
}

func NewResolver(folder string, maxPoints int) *Resolver {
	if maxPoints <= 0 {
		maxPoints = 10000
	}
	return &Resolver{FolderPath: folder, MaxPoints: maxPoints}
}

// Resolve tries the supported filename variants for the item and parses the
// first one that exists. Suppliers have shipped both underscore and hyphen
// separators, and csv exports alongside the original xlsx.
func (r *Resolver) Resolve(item model.WorkItem) (Sequence, error) {
	bases := []string{
		item.FromCode + "_" + item.ToCode,
		item.FromCode + "-" + item.ToCode,
	}
	exts := []string{".xlsx", ".xls", ".csv"}
	for _, base := range bases {
		for _, ext := range exts {
			path := filepath.Join(r.FolderPath, base+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			seq, err := r.parseFile(path)
			if err != nil {
				return Sequence{}, err
			}
			if len(seq.Points) < 2 {
				return Sequence{}, fmt.Errorf("%w: %s has %d valid points", ErrInsufficientData, filepath.Base(path), len(seq.Points))
			}
			return seq, nil
		}
	}
	return Sequence{}, fmt.Errorf("%w: no track file for %s", ErrInputFileNotFound, item.Key())
}

func (r *Resolver) parseFile(path string) (Sequence, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return Sequence{}, fmt.Errorf("%w: %v", ErrInputFileNotFound, err)
		}
		defer f.Close()
		return r.parseCSV(f)
	}
	return r.parseExcel(path)
}

func (r *Resolver) parseExcel(path string) (Sequence, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Sequence{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Sequence{}, fmt.Errorf("%w: no sheets in %s", ErrInsufficientData, filepath.Base(path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Sequence{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return r.pointsFromRows(rows), nil
}

func (r *Resolver) parseCSV(reader io.Reader) (Sequence, error) {
	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return Sequence{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	return r.pointsFromRows(rows), nil
}

// pointsFromRows extracts valid coordinates. A header naming lat/lon columns is
// searched in the first few rows; without one, rows are treated as bare numeric
// pairs (two values per row, or four when two pairs were flattened together).
func (r *Resolver) pointsFromRows(rows [][]string) Sequence {
	latCol, lngCol, headerRow := findCoordColumns(rows)
	seq := Sequence{}
	add := func(lat, lng float64) bool {
		if !ValidCoordinate(lat, lng) {
			return len(seq.Points) < r.MaxPoints
		}
		seq.Points = append(seq.Points, model.TrackPoint{Lat: lat, Lng: lng, Order: len(seq.Points)})
		return len(seq.Points) < r.MaxPoints
	}

	if latCol >= 0 && lngCol >= 0 {
		for i := headerRow + 1; i < len(rows); i++ {
			row := rows[i]
			seq.RowsRead++
			if latCol >= len(row) || lngCol >= len(row) {
				continue
			}
			lat, err1 := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
			lng, err2 := strconv.ParseFloat(strings.TrimSpace(row[lngCol]), 64)
			if err1 != nil || err2 != nil {
				continue
			}
			if !add(lat, lng) {
				break
			}
		}
		return seq
	}

	// Mixed/bare format recovery.
	for _, row := range rows {
		nums := numericCells(row)
		if len(nums) > 0 {
			seq.RowsRead++
		}
		switch len(nums) {
		case 2:
			if !add(nums[0], nums[1]) {
				return seq
			}
		case 3:
			// Odd row; take the leading pair.
			if !add(nums[0], nums[1]) {
				return seq
			}
		case 4:
			if !add(nums[0], nums[1]) {
				return seq
			}
			if !add(nums[2], nums[3]) {
				return seq
			}
		}
	}
	return seq
}

func findCoordColumns(rows [][]string) (latCol, lngCol, headerRow int) {
	limit := len(rows)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		lat, lng := -1, -1
		for j, cell := range rows[i] {
			name := strings.ToLower(strings.TrimSpace(cell))
			if name == "" {
				continue
			}
			if lat < 0 && strings.Contains(name, "lat") {
				lat = j
				continue
			}
			if lng < 0 && (strings.Contains(name, "lon") || strings.Contains(name, "lng")) {
				lng = j
			}
		}
		if lat >= 0 && lng >= 0 {
			return lat, lng, i
		}
	}
	return -1, -1, -1
}

func numericCells(row []string) []float64 {
	var nums []float64
	for _, cell := range row {
		v := strings.TrimSpace(cell)
		if v == "" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			nums = append(nums, f)
		}
	}
	return nums
}
