// Package manifest parses the bulk-job manifest: a CSV index of routes where
// each row names one origin/destination pair to process.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"routerisk/internal/model"
)

// ErrManifestUnreadable means the manifest stream itself could not be read.
// Malformed individual rows never produce this; they are collected per row.
var ErrManifestUnreadable = errors.New("manifest unreadable")

// Column synonyms accepted in the header row, matched case-insensitively by
// substring. The manifest format has drifted across suppliers; "bu code" and
// "row labels" are the legacy names from the original index files.
var (
	fromCodeNames = []string{"fromcode", "from_code", "from code", "bu code", "bucode", "origin code"}
	fromNameNames = []string{"fromname", "from_name", "from name", "location", "origin name", "origin"}
	toCodeNames   = []string{"tocode", "to_code", "to code", "row labels", "rowlabels", "dest code", "destination code"}
	toNameNames   = []string{"toname", "to_name", "to name", "customer", "dest name", "destination name", "destination"}
)

type columns struct {
	fromCode, fromName, toCode, toName int
}

// Parse reads a CSV manifest into WorkItems. Rows missing a required field are
// reported in rowErrors and excluded; only an unreadable stream fails the call.
func Parse(r io.Reader) (items []model.WorkItem, rowErrors []string, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrManifestUnreadable, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: empty manifest", ErrManifestUnreadable)
	}

	cols, headerRow, ok := locateHeader(records)
	if !ok {
		// No recognizable header: assume positional layout
		// fromCode, fromName, toCode, toName.
		cols = columns{fromCode: 0, fromName: 1, toCode: 2, toName: 3}
		headerRow = -1
	}

	seq := 0
	for i, rec := range records {
		if i <= headerRow {
			continue
		}
		if blankRow(rec) {
			continue
		}
		item, rowErr := buildItem(rec, cols, i+1)
		if rowErr != "" {
			rowErrors = append(rowErrors, rowErr)
			continue
		}
		item.SequenceIndex = seq
		seq++
		items = append(items, item)
	}
	return items, rowErrors, nil
}

// locateHeader scans the first few rows for one containing all four columns.
func locateHeader(records [][]string) (columns, int, bool) {
	limit := len(records)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		cols := columns{fromCode: -1, fromName: -1, toCode: -1, toName: -1}
		for j, cell := range records[i] {
			name := strings.ToLower(strings.TrimSpace(cell))
			if name == "" {
				continue
			}
			switch {
			case cols.fromCode < 0 && matchAny(name, fromCodeNames):
				cols.fromCode = j
			case cols.fromName < 0 && matchAny(name, fromNameNames):
				cols.fromName = j
			case cols.toCode < 0 && matchAny(name, toCodeNames):
				cols.toCode = j
			case cols.toName < 0 && matchAny(name, toNameNames):
				cols.toName = j
			}
		}
		if cols.fromCode >= 0 && cols.fromName >= 0 && cols.toCode >= 0 && cols.toName >= 0 {
			return cols, i, true
		}
	}
	return columns{}, 0, false
}

func matchAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}

func buildItem(rec []string, cols columns, line int) (model.WorkItem, string) {
	get := func(idx int) string {
		if idx < 0 || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}
	item := model.WorkItem{
		FromCode: get(cols.fromCode),
		FromName: get(cols.fromName),
		ToCode:   get(cols.toCode),
		ToName:   get(cols.toName),
	}
	var missing []string
	if item.FromCode == "" {
		missing = append(missing, "fromCode")
	}
	if item.FromName == "" {
		missing = append(missing, "fromName")
	}
	if item.ToCode == "" {
		missing = append(missing, "toCode")
	}
	if item.ToName == "" {
		missing = append(missing, "toName")
	}
	if len(missing) > 0 {
		return model.WorkItem{}, fmt.Sprintf("row %d: missing %s", line, strings.Join(missing, ", "))
	}
	return item, ""
}

func blankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
