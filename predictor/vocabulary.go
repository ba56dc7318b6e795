package predictor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Vocabulary is the ordered list of labels the classifier emits, indexed by output position.
type Vocabulary struct {
	labels []string
}

// NewVocabulary copies the labels into an immutable vocabulary.
func NewVocabulary(labels []string) Vocabulary {
	return Vocabulary{labels: cloneStrings(labels)}
}

// Len returns the number of classes.
func (v Vocabulary) Len() int {
	return len(v.labels)
}

// Label maps an output index to its label.
func (v Vocabulary) Label(idx int) (string, error) {
	if idx < 0 || idx >= len(v.labels) {
		return "", fmt.Errorf("%w: index %d, vocabulary size %d", ErrIndexOutOfRange, idx, len(v.labels))
	}
	return v.labels[idx], nil
}

// Labels returns a copy of all labels in index order.
func (v Vocabulary) Labels() []string {
	return cloneStrings(v.labels)
}

// LoadVocabulary reads class_indices.json. The label order is the key order of
// the JSON object as written; a plain JSON array of labels is accepted too.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	labels, err := parseVocabulary(data)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(labels) == 0 {
		return Vocabulary{}, fmt.Errorf("empty vocabulary in %s", filepath.Base(path))
	}
	return Vocabulary{labels: labels}, nil
}

func parseVocabulary(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, errors.New("expected JSON object or array")
	}
	var labels []string
	switch delim {
	case '{':
		seen := make(map[string]bool)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			if seen[key] {
				return nil, fmt.Errorf("duplicate label %q", key)
			}
			seen[key] = true
			labels = append(labels, key)
		}
	case '[':
		for dec.More() {
			var label string
			if err := dec.Decode(&label); err != nil {
				return nil, err
			}
			labels = append(labels, label)
		}
	default:
		return nil, errors.New("expected JSON object or array")
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return nil, fmt.Errorf("blank label at index %d", i)
		}
	}
	return labels, nil
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
