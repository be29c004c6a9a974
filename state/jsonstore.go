package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/foomo/confluence-markdown/fsutil"
)

// JSONFileStore keeps the state in a single indented JSON file that is
// replaced atomically on save.
type JSONFileStore struct {
	path string
}

func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

var _ Store = (*JSONFileStore)(nil)

func (s *JSONFileStore) Location() string {
	return s.path
}

func (s *JSONFileStore) Exists(context.Context) bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *JSONFileStore) Load(ctx context.Context) (*BuildState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", s.path, err)
	}
	bs := &BuildState{}
	if err := json.Unmarshal(data, bs); err != nil {
		return nil, fmt.Errorf("failed to decode state %s: %w", s.path, err)
	}
	return bs.normalize(), nil
}

func (s *JSONFileStore) Save(ctx context.Context, bs *BuildState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(bs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, append(data, '\n'), 0o644, 0o755)
}

func (s *JSONFileStore) Reset(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove state %s: %w", s.path, err)
	}
	return nil
}

func (s *JSONFileStore) Close() error {
	return nil
}
