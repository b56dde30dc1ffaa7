// Package scratch owns the temporary storage one ingestion call needs:
// a uniquely named file for the uploaded bytes and, for archive
// uploads, a uniquely named extraction directory. A Handle is acquired
// once per request and released on every exit path, so concurrent
// uploads never share paths and nothing survives the request.
package scratch

import (
	"fmt"
	"log"
	"os"
)

// Handle is the ownership token for one scratch file and, lazily, one
// scratch directory. It must be released exactly once; Release clears
// the paths so a duplicate call is a no-op.
type Handle struct {
	file string
	dir  string
}

// Acquire creates a fresh unique temp file. The suffix keeps the
// upload's extension on disk so format drivers that sniff by extension
// keep working.
func Acquire(suffix string) (*Handle, error) {
	f, err := os.CreateTemp("", "geoportal-upload-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close scratch file: %w", err)
	}
	return &Handle{file: f.Name()}, nil
}

// File returns the scratch file path.
func (h *Handle) File() string { return h.file }

// Dir returns the scratch directory path, creating it on first call.
// Only archive uploads ever ask for it.
func (h *Handle) Dir() (string, error) {
	if h.dir != "" {
		return h.dir, nil
	}
	dir, err := os.MkdirTemp("", "geoportal-extract-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	h.dir = dir
	return dir, nil
}

// Release deletes the scratch file and recursively removes the scratch
// directory if one was created. Directory removal errors are swallowed
// on purpose: a half-removed extraction dir must never mask the
// ingestion result the caller is about to report.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.file != "" {
		if err := os.Remove(h.file); err != nil && !os.IsNotExist(err) {
			log.Printf("scratch: remove %s: %v", h.file, err)
		}
		h.file = ""
	}
	if h.dir != "" {
		_ = os.RemoveAll(h.dir)
		h.dir = ""
	}
}
