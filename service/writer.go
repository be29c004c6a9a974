package service

import (
	"context"
	"os"

	"github.com/foomo/confluence-markdown/fsutil"
)

// Writer persists a rendered document.
type Writer interface {
	Write(ctx context.Context, path string, data []byte) error
}

// FileWriter writes documents to the local filesystem. Files are replaced
// atomically through a temp file in the target directory.
type FileWriter struct {
	PermFile os.FileMode
	PermDir  os.FileMode
}

func NewFileWriter() *FileWriter {
	return &FileWriter{PermFile: 0o644, PermDir: 0o755}
}

func (w *FileWriter) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, w.PermFile, w.PermDir)
}
