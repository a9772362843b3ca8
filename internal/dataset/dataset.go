// Package dataset loads the reference symptom datasets and answers search and
// frequency queries against them.
//
// Both datasets are small CSV files keyed by a "Symptom" column with optional
// "Possible Diseases" and "Severity" columns. They are loaded once at startup and
// are read-only afterwards, so every method here is safe for concurrent use.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Column names recognised in the CSV header.
const (
	ColumnSymptom  = "Symptom"
	ColumnDiseases = "Possible Diseases"
	ColumnSeverity = "Severity"
)

// NoInfo is returned by Search when nothing matched.
const NoInfo = "No relevant info found."

// MaxSearchResults bounds the number of lines Search returns.
const MaxSearchResults = 5

// Source names one of the two reference datasets.
type Source string

const (
	// Primary is dataset1.
	Primary Source = "dataset1"
	// Supplementary is dataset2.
	Supplementary Source = "dataset2"
)

// ErrMissingSymptomColumn is returned when a CSV header lacks the Symptom column.
var ErrMissingSymptomColumn = errors.New("dataset header has no Symptom column")

// Row is one record of a reference dataset.
type Row struct {
	Symptom  string
	Diseases string
	Severity string
}

// Table is a loaded dataset.
type Table struct {
	Name Source
	Rows []Row
}

// ReadCSV parses a dataset from r. Rows are kept in file order.
func ReadCSV(name Source, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return &Table{Name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s header: %w", name, err)
	}

	index := map[string]int{}
	for i, col := range header {
		index[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	symptomIdx, ok := index[ColumnSymptom]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingSymptomColumn)
	}
	field := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	table := &Table{Name: name}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row %d: %w", name, len(table.Rows)+1, err)
		}
		row := Row{
			Diseases: field(record, ColumnDiseases),
			Severity: field(record, ColumnSeverity),
		}
		if symptomIdx < len(record) {
			row.Symptom = record[symptomIdx]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// LoadCSV reads a dataset from a file path.
func LoadCSV(name Source, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	table, err := ReadCSV(name, f)
	if err != nil {
		return nil, err
	}
	slog.Info("Dataset loaded", "dataset", name, "path", path, "rows", len(table.Rows))
	return table, nil
}

// Search returns up to MaxSearchResults formatted lines whose Symptom or
// Possible Diseases field contains query (case-insensitive), or NoInfo.
func (t *Table) Search(query string) string {
	if t == nil {
		return NoInfo
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return NoInfo
	}

	var results []string
	for _, row := range t.Rows {
		if len(results) == MaxSearchResults {
			break
		}
		if strings.Contains(strings.ToLower(row.Symptom), q) || strings.Contains(strings.ToLower(row.Diseases), q) {
			results = append(results, row.format())
		}
	}
	if len(results) == 0 {
		return NoInfo
	}
	return strings.Join(results, "\n")
}

func (r Row) format() string {
	return fmt.Sprintf("• Symptom: %s | Disease(s): %s | Severity: %s", orNA(r.Symptom), orNA(r.Diseases), orNA(r.Severity))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Catalog holds both reference datasets.
type Catalog struct {
	primary       *Table
	supplementary *Table
}

// NewCatalog builds a catalog from already loaded tables. Either may be nil.
func NewCatalog(primary, supplementary *Table) *Catalog {
	return &Catalog{primary: primary, supplementary: supplementary}
}

// LoadCatalog loads both datasets from disk.
func LoadCatalog(primaryPath, supplementaryPath string) (*Catalog, error) {
	primary, err := LoadCSV(Primary, primaryPath)
	if err != nil {
		return nil, err
	}
	supplementary, err := LoadCSV(Supplementary, supplementaryPath)
	if err != nil {
		return nil, err
	}
	return NewCatalog(primary, supplementary), nil
}

// Search runs a query against one dataset.
func (c *Catalog) Search(source Source, query string) string {
	switch source {
	case Primary:
		return c.primary.Search(query)
	case Supplementary:
		return c.supplementary.Search(query)
	default:
		return NoInfo
	}
}

// TopSymptoms returns the n most frequent trimmed symptom labels across dataset1
// then dataset2. Ties keep first-seen order in that scan.
func (c *Catalog) TopSymptoms(n int) []string {
	if n <= 0 {
		return nil
	}

	type entry struct {
		label string
		count int
	}
	counts := map[string]*entry{}
	var order []*entry
	for _, table := range []*Table{c.primary, c.supplementary} {
		if table == nil {
			continue
		}
		for _, row := range table.Rows {
			label := strings.TrimSpace(row.Symptom)
			if label == "" {
				continue
			}
			e, ok := counts[label]
			if !ok {
				e = &entry{label: label}
				counts[label] = e
				order = append(order, e)
			}
			e.count++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].count > order[j].count
	})
	if n > len(order) {
		n = len(order)
	}
	top := make([]string, n)
	for i := 0; i < n; i++ {
		top[i] = order[i].label
	}
	return top
}
