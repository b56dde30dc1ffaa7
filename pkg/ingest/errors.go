package ingest

import (
	"errors"
	"fmt"
)

// Kind discriminates ingestion failures. Every kind maps to a
// recoverable outcome the web shell can show the user; none of them
// ever crash the host process.
type Kind int

const (
	// Internal marks a recovered fault that does not belong to the
	// user-facing taxonomy (scratch allocation failure, panic inside a
	// driver). The shell reports it as a server error.
	Internal Kind = iota
	// UnsupportedFormat: the upload extension is not recognized. This
	// is the only failure raised before scratch storage is allocated.
	UnsupportedFormat
	// ArchiveUnreadable: the ZIP could not be extracted.
	ArchiveUnreadable
	// NoGeometryFileFound: the archive holds no shapefile descriptor.
	NoGeometryFileFound
	// DatasetUnreadable: the format driver failed to parse the file.
	DatasetUnreadable
	// MissingGeometry: zero features, or a feature without geometry.
	MissingGeometry
	// ReprojectionFailure: the declared source system cannot be
	// transformed into WGS84.
	ReprojectionFailure
)

func (k Kind) String() string {
	switch k {
	case UnsupportedFormat:
		return "unsupported format"
	case ArchiveUnreadable:
		return "archive unreadable"
	case NoGeometryFileFound:
		return "no geometry file found"
	case DatasetUnreadable:
		return "dataset unreadable"
	case MissingGeometry:
		return "missing geometry"
	case ReprojectionFailure:
		return "reprojection failure"
	default:
		return "internal"
	}
}

// Error is the structured result every pipeline failure is converted
// into at the boundary. Message is human-readable; Cause keeps the
// underlying error reachable for errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the failure kind from any error returned by the
// pipeline. ok is false for errors that did not originate here.
func KindOf(err error) (Kind, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return Internal, false
}
