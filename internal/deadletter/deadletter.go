// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package deadletter

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Writer appends undeliverable batch payloads to a local file for manual
// recovery.  It is a last resort, not a durable queue: there is no rotation,
// no retry, and a failed write only loses that one payload.
type Writer struct {
	mutex  sync.Mutex
	dir    string
	file   string
	logger *zap.Logger
}

func NewWriter(dir, file string, logger *zap.Logger) *Writer {
	return &Writer{
		dir:    dir,
		file:   file,
		logger: logger,
	}
}

// Path returns the dead letter file used for a table.
func (w *Writer) Path(table string) string {
	return filepath.Join(w.dir, table+"_"+w.file)
}

// Persist appends the raw document bytes to the table's dead letter file.
// I/O errors are logged and swallowed; the batch is considered lost either
// way.
func (w *Writer) Persist(table string, document []byte) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	path := w.Path(table)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		w.logger.Error("unable to open dead letter file", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err = f.Write(document); err != nil {
		w.logger.Error("unable to write dead letter file", zap.String("path", path), zap.Error(err))
	}
}
