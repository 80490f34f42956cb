// This file implements Recorder, which writes published media to an FLV file.

package flv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"amsd/internal/core/bus"
)

// RecordMode selects what happens to an existing file.
type RecordMode int

const (
	// RecordTruncate starts a new file.
	RecordTruncate RecordMode = iota
	// RecordAppend adds tags after existing content.
	RecordAppend
)

// Recorder writes media messages as FLV tags. It implements bus.Recorder.
type Recorder struct {
	mu     sync.Mutex
	f      io.WriteCloser
	w      *bufio.Writer
	closed bool
}

// CreateRecorder opens path for recording, creating parent directories.
// The FLV header is only written when the file is empty.
func CreateRecorder(path string, mode RecordMode) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if mode == RecordAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	rec, err := NewRecorder(f, st.Size() == 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flv record %s: %w", path, err)
	}
	return rec, nil
}

// NewRecorder records to w. When writeHeader is set the FLV header and the
// first previous tag size are written immediately.
func NewRecorder(w io.WriteCloser, writeHeader bool) (*Recorder, error) {
	rec := &Recorder{f: w, w: bufio.NewWriter(w)}
	if writeHeader {
		if _, err := rec.w.Write(StreamHeader()); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Write appends one tag.
func (r *Recorder) Write(msg *bus.MediaMessage) error {
	tag := MuxMessage(msg)
	if tag == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}
	_, err := r.w.Write(tag.Bytes())
	return err
}

// Close flushes buffered tags and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	flushErr := r.w.Flush()
	closeErr := r.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

var _ bus.Recorder = (*Recorder)(nil)
