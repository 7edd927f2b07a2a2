package mapper

import (
	"fmt"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/types"
)

// Exclusion records a row or column dropped during mapping, with the rule that
// dropped it.
type Exclusion struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Report carries the per-row/per-column missingness diagnostics of one mapping
// pass. All diagnostics are returned values; the mapper never logs.
type Report struct {
	RowMissing      map[string]int `json:"row_missing"`
	ColumnMissing   map[string]int `json:"column_missing"`
	UnmatchedLabels map[string]int `json:"unmatched_labels"`
	ExcludedPersons []Exclusion    `json:"excluded_persons,omitempty"`
	ExcludedItems   []Exclusion    `json:"excluded_items,omitempty"`
}

// Map converts a raw survey table into an ItemResponseMatrix against the given
// scale. Unmatched or blank cells become Missing. Rows with zero observed
// responses and items with fewer than two distinct observed codes are excluded
// and reported, not fatal. Duplicate person identifiers, or fewer than two
// scoreable items remaining, abort with a DataFormatError.
func Map(table types.RawTable, scale Scale) (*ItemResponseMatrix, *Report, error) {
	report := &Report{
		RowMissing:      make(map[string]int),
		ColumnMissing:   make(map[string]int),
		UnmatchedLabels: make(map[string]int),
	}

	seen := make(map[string]bool, len(table.Rows))
	for _, row := range table.Rows {
		if row.PersonID == "" {
			return nil, nil, errors.NewDataFormatError(
				"person identifier column contains an empty value", nil)
		}
		if seen[row.PersonID] {
			return nil, nil, errors.NewDataFormatError(
				"person identifier column contains duplicates",
				map[string]string{"duplicate_id": row.PersonID})
		}
		seen[row.PersonID] = true
	}

	// First pass: code every cell.
	codes := make([][]int, len(table.Rows))
	for r, row := range table.Rows {
		codes[r] = make([]int, len(table.Items))
		for c := range table.Items {
			raw := ""
			if c < len(row.Responses) {
				raw = row.Responses[c]
			}
			code, ok := scale.Match(raw)
			if !ok {
				codes[r][c] = Missing
				if raw != "" {
					report.UnmatchedLabels[raw]++
				}
				continue
			}
			codes[r][c] = code
		}
	}

	// Drop rows with no observed responses.
	var keptRows []int
	var personIDs []string
	for r, row := range table.Rows {
		valid := 0
		for _, code := range codes[r] {
			if code != Missing {
				valid++
			}
		}
		if valid == 0 {
			report.ExcludedPersons = append(report.ExcludedPersons, Exclusion{
				ID:     row.PersonID,
				Reason: "no responses matched the scale vocabulary",
			})
			continue
		}
		keptRows = append(keptRows, r)
		personIDs = append(personIDs, row.PersonID)
	}

	// Drop degenerate columns: fewer than two distinct observed codes means the
	// item carries no information for estimation.
	var keptCols []int
	var itemIDs []string
	for c, itemID := range table.Items {
		distinct := make(map[int]bool)
		for _, r := range keptRows {
			if codes[r][c] != Missing {
				distinct[codes[r][c]] = true
			}
		}
		if len(distinct) < 2 {
			report.ExcludedItems = append(report.ExcludedItems, Exclusion{
				ID:     itemID,
				Reason: fmt.Sprintf("only %d distinct observed response(s)", len(distinct)),
			})
			continue
		}
		keptCols = append(keptCols, c)
		itemIDs = append(itemIDs, itemID)
	}

	if len(keptCols) < 2 {
		return nil, nil, errors.NewDataFormatError(
			"fewer than 2 scoreable items remain after dropping degenerate columns",
			map[string]string{"remaining_items": fmt.Sprintf("%d", len(keptCols))})
	}

	matrix := &ItemResponseMatrix{
		PersonIDs: personIDs,
		ItemIDs:   itemIDs,
		Levels:    scale.Levels(),
		Codes:     make([][]int, len(keptRows)),
	}
	for i, r := range keptRows {
		matrix.Codes[i] = make([]int, len(keptCols))
		for j, c := range keptCols {
			matrix.Codes[i][j] = codes[r][c]
			if codes[r][c] == Missing {
				report.RowMissing[personIDs[i]]++
				report.ColumnMissing[itemIDs[j]]++
			}
		}
	}

	return matrix, report, nil
}
