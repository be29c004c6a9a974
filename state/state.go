// Package state persists what previous runs converted so that unchanged
// pages can be skipped. The state lives in a JSON file or a SQLite database.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foomo/confluence-markdown/config"
)

const Version = "1.0"

type BuildState struct {
	Version      string                  `json:"version"`
	SettingsHash string                  `json:"settings_hash"`
	Exports      map[string]*ExportState `json:"exports"`
}

type ExportState struct {
	SourcePath   string                `json:"source_path"`
	SourceMtime  time.Time             `json:"source_mtime"`
	SourceHash   string                `json:"source_hash"`
	SettingsHash string                `json:"settings_hash,omitempty"`
	Pages        map[string]*PageState `json:"pages"`
}

type PageState struct {
	Title       string    `json:"title"`
	OutputPath  string    `json:"output_path"`
	ContentHash string    `json:"content_hash"`
	ConvertedAt time.Time `json:"converted_at"`
}

// UnmarshalJSON reads timestamps leniently, see parseTimestamp.
func (e *ExportState) UnmarshalJSON(data []byte) error {
	type alias ExportState
	aux := struct {
		*alias
		SourceMtime json.RawMessage `json:"source_mtime"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.SourceMtime = parseTimestampJSON(aux.SourceMtime)
	return nil
}

// UnmarshalJSON reads timestamps leniently, see parseTimestamp.
func (p *PageState) UnmarshalJSON(data []byte) error {
	type alias PageState
	aux := struct {
		*alias
		ConvertedAt json.RawMessage `json:"converted_at"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.ConvertedAt = parseTimestampJSON(aux.ConvertedAt)
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and zone-less ISO 8601 timestamps, the
// latter read as UTC. Anything else yields the zero time, timestamps are
// informational and never decide whether a page is converted.
func parseTimestamp(value string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseTimestampJSON(raw json.RawMessage) time.Time {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}
	}
	return parseTimestamp(value)
}

func New() *BuildState {
	return &BuildState{
		Version: Version,
		Exports: map[string]*ExportState{},
	}
}

// normalize fills maps a decoded state may lack
func (s *BuildState) normalize() *BuildState {
	if s.Version == "" {
		s.Version = Version
	}
	if s.Exports == nil {
		s.Exports = map[string]*ExportState{}
	}
	for _, e := range s.Exports {
		if e.Pages == nil {
			e.Pages = map[string]*PageState{}
		}
	}
	return s
}

// Store loads and saves a BuildState. Load returns an empty state when
// nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (*BuildState, error)
	Save(ctx context.Context, s *BuildState) error
	Reset(ctx context.Context) error
	Exists(ctx context.Context) bool
	Location() string
	Close() error
}

// Open returns the store configured by cfg.
func Open(ctx context.Context, cfg config.State) (Store, error) {
	switch cfg.Backend {
	case config.StateBackendJSON, "":
		return NewJSONFileStore(cfg.Path), nil
	case config.StateBackendSQLite:
		return OpenSQLiteStore(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
