package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/hazyhaar/hifi-resolver/pkg/classify"
)

// CSVResult summarizes a catalog CSV read.
type CSVResult struct {
	Entries []*Entry
	Skipped int
}

// ReadEntriesCSV parses a catalog export with a header row. Columns are
// matched case-insensitively: name is required, category is required unless
// defaultCategory is set, id and brand are optional. Rows without a name or
// with an unknown category are skipped.
func ReadEntriesCSV(r io.Reader, defaultCategory string) (*CSVResult, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := make(map[string]int)
	for i, h := range header {
		colIdx[strings.TrimSpace(strings.ToLower(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := colIdx["name"]; !ok {
		return nil, fmt.Errorf("column 'name' not found in header %v", header)
	}
	_, hasCategory := colIdx["category"]
	if !hasCategory && defaultCategory == "" {
		return nil, fmt.Errorf("column 'category' not found in header %v and no default category", header)
	}

	field := func(record []string, col string) string {
		i, ok := colIdx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	res := &CSVResult{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Skipped++
			continue
		}

		name := field(record, "name")
		category := field(record, "category")
		if category == "" {
			category = defaultCategory
		}
		cat, ok := classify.ParseCategory(category)
		if name == "" || !ok || cat == "" {
			res.Skipped++
			continue
		}
		res.Entries = append(res.Entries, &Entry{
			ID:       field(record, "id"),
			Category: string(cat),
			Name:     name,
			Brand:    field(record, "brand"),
		})
	}
	return res, nil
}
