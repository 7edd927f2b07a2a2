// Package ingest parses uploaded survey files into raw tables.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/types"
)

// ReadCSV parses a survey CSV into a raw table. The first row is the header:
// a person identifier column followed by one column per item. Cell text is
// trimmed but otherwise passed through untouched; vocabulary matching is the
// mapper's job, not the reader's.
func ReadCSV(r io.Reader) (types.RawTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // ragged rows are validated here, with row numbers
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return types.RawTable{}, errors.NewDataFormatError("survey file is empty", nil)
	}
	if err != nil {
		return types.RawTable{}, errors.NewDataFormatError("failed to read survey header", map[string]string{
			"cause": err.Error(),
		})
	}
	if len(header) < 3 {
		return types.RawTable{}, errors.NewDataFormatError(
			"survey header needs a person identifier column and at least 2 items",
			map[string]string{"columns": fmt.Sprintf("%d", len(header))})
	}

	table := types.RawTable{Items: make([]string, 0, len(header)-1)}
	seenItem := make(map[string]bool, len(header)-1)
	for _, item := range header[1:] {
		item = strings.TrimSpace(item)
		if item == "" {
			return types.RawTable{}, errors.NewDataFormatError("survey header contains an empty item name", nil)
		}
		if seenItem[item] {
			return types.RawTable{}, errors.NewDataFormatError(
				"survey header contains a duplicate item name",
				map[string]string{"duplicate_item": item})
		}
		seenItem[item] = true
		table.Items = append(table.Items, item)
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.RawTable{}, errors.NewDataFormatError("failed to read survey row", map[string]string{
				"line":  fmt.Sprintf("%d", line),
				"cause": err.Error(),
			})
		}
		if len(record) != len(header) {
			return types.RawTable{}, errors.NewDataFormatError("survey row width does not match header", map[string]string{
				"line":     fmt.Sprintf("%d", line),
				"expected": fmt.Sprintf("%d", len(header)),
				"got":      fmt.Sprintf("%d", len(record)),
			})
		}

		responses := make([]string, len(record)-1)
		for i, cell := range record[1:] {
			responses[i] = strings.TrimSpace(cell)
		}
		table.Rows = append(table.Rows, types.RawRow{
			PersonID:  strings.TrimSpace(record[0]),
			Responses: responses,
		})
	}

	if len(table.Rows) == 0 {
		return types.RawTable{}, errors.NewDataFormatError("survey file has a header but no respondent rows", nil)
	}
	return table, nil
}
