// Package snapshot encodes workspace sessions into the persisted
// workspace_state document and decodes documents written by any earlier
// schema version.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"labelscope/api/internal/annotation"
)

const CurrentVersion = 2

var (
	ErrUnsupportedVersion = errors.New("snapshot: unsupported schema version")
	ErrMalformed          = errors.New("snapshot: malformed document")
)

type Snapshot struct {
	SchemaVersion   int                      `json:"schemaVersion"`
	ReportType      annotation.ReportType    `json:"reportType"`
	DrugID          string                   `json:"drugId"`
	DrugName        string                   `json:"drugName"`
	Competitors     []annotation.Competitor  `json:"competitors"`
	Highlights      []annotation.Highlight   `json:"highlights"`
	Notes           []annotation.Note        `json:"notes"`
	FlaggedMessages []annotation.ChatMessage `json:"flaggedMessages"`
	UI              annotation.UIState       `json:"ui"`
}

// Normalize returns s in canonical form: current version, empty instead of
// nil top-level lists, nil instead of empty citation lists.
func (s Snapshot) Normalize() Snapshot {
	s.SchemaVersion = CurrentVersion
	if s.ReportType == "" {
		s.ReportType = annotation.ReportAnalysis
		if len(s.Competitors) > 0 {
			s.ReportType = annotation.ReportComparison
		}
	}
	s.Competitors = append([]annotation.Competitor{}, s.Competitors...)
	s.Highlights = append([]annotation.Highlight{}, s.Highlights...)
	s.Notes = append([]annotation.Note{}, s.Notes...)
	msgs := make([]annotation.ChatMessage, 0, len(s.FlaggedMessages))
	for _, m := range s.FlaggedMessages {
		if len(m.Citations) == 0 {
			m.Citations = nil
		} else {
			m.Citations = append([]annotation.Citation(nil), m.Citations...)
		}
		msgs = append(msgs, m)
	}
	s.FlaggedMessages = msgs
	return s
}

// DrugNames lists the source drug followed by the competitors.
func (s Snapshot) DrugNames() []string {
	names := []string{}
	if s.DrugName != "" {
		names = append(names, s.DrugName)
	}
	for _, c := range s.Competitors {
		if c.DrugName != "" {
			names = append(names, c.DrugName)
		}
	}
	return names
}

// Encode always writes the current schema version.
func Encode(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s.Normalize())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode reads a document of any known schema version. Documents without a
// version tag are version 1.
func Decode(data []byte) (Snapshot, error) {
	doc, err := parseObject(data)
	if err != nil {
		return Snapshot{}, err
	}
	version, err := detectVersion(doc)
	if err != nil {
		return Snapshot{}, err
	}
	if version < 1 || version > CurrentVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	if version < CurrentVersion {
		for v := version; v < CurrentVersion; v++ {
			step, ok := migrations[v]
			if !ok {
				return Snapshot{}, fmt.Errorf("%w: no migration from %d", ErrUnsupportedVersion, v)
			}
			doc = step(doc)
		}
		data, err = json.Marshal(doc)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s.Normalize(), nil
}

func parseObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformed)
	}
	return doc, nil
}

func detectVersion(doc map[string]any) (int, error) {
	raw, ok := lookup(doc, versionField)
	if !ok || raw == nil {
		return 1, nil
	}
	v, ok := asInt(raw)
	if !ok {
		return 0, fmt.Errorf("%w: schema version %v", ErrMalformed, raw)
	}
	return v, nil
}
