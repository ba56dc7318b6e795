package predictor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var deficiencyColumns = []string{"Diseases", "Deficiency"}

// DeficiencyTable maps normalized disease labels to deficiency descriptions.
// It is immutable once built and safe for concurrent lookups.
type DeficiencyTable struct {
	entries map[string]string
}

// NewDeficiencyTable builds a table from label/deficiency pairs.
func NewDeficiencyTable(pairs map[string]string) *DeficiencyTable {
	t := &DeficiencyTable{entries: make(map[string]string, len(pairs))}
	for disease, deficiency := range pairs {
		key := NormalizeLabel(disease)
		if key == "" {
			continue
		}
		t.entries[key] = strings.TrimSpace(deficiency)
	}
	return t
}

// LoadDeficiencyTable reads the disease to deficiency CSV from disk.
func LoadDeficiencyTable(path string) (*DeficiencyTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	table, err := ParseDeficiencyTable(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return table, nil
}

// ParseDeficiencyTable parses a CSV whose header is exactly "Diseases,Deficiency".
func ParseDeficiencyTable(r io.Reader) (*DeficiencyTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrSchema)
		}
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	columns := make([]string, len(header))
	for i, cell := range header {
		columns[i] = headerCell(cell)
	}
	if !equalColumns(columns, deficiencyColumns) {
		return nil, fmt.Errorf("%w: expected %v, got %v", ErrSchema, deficiencyColumns, columns)
	}
	t := &DeficiencyTable{entries: make(map[string]string)}
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSchema, line, err)
		}
		if len(row) != len(deficiencyColumns) {
			return nil, fmt.Errorf("%w: line %d has %d columns", ErrSchema, line, len(row))
		}
		key := NormalizeLabel(row[0])
		if key == "" {
			continue
		}
		t.entries[key] = strings.TrimSpace(row[1])
	}
	return t, nil
}

// Lookup returns the deficiency for a disease label, or NoMappingFound.
func (t *DeficiencyTable) Lookup(label string) string {
	if t == nil {
		return NoMappingFound
	}
	if v, ok := t.entries[NormalizeLabel(label)]; ok {
		return v
	}
	return NoMappingFound
}

// Len returns the number of mapped diseases.
func (t *DeficiencyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

func equalColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
