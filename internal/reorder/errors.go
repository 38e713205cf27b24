package reorder

import (
	"errors"
	"fmt"
)

// Kind classifies a failed run.
type Kind string

const (
	KindEmptySource   Kind = "empty_source"
	KindOddFileCount  Kind = "odd_file_count"
	KindIOFailure     Kind = "io_failure"
	KindInvalidConfig Kind = "invalid_config"
	KindNameCollision Kind = "name_collision"
	KindReservedName  Kind = "reserved_name"
)

// Sentinel errors, one per Kind. Use errors.Is against these.
var (
	ErrEmptySource   = errors.New("no image files in working directory")
	ErrOddFileCount  = errors.New("odd number of files")
	ErrIOFailure     = errors.New("filesystem operation failed")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNameCollision = errors.New("destination name collision")
	ErrReservedName  = errors.New("temporary prefix namespace not clear")
)

var sentinels = map[Kind]error{
	KindEmptySource:   ErrEmptySource,
	KindOddFileCount:  ErrOddFileCount,
	KindIOFailure:     ErrIOFailure,
	KindInvalidConfig: ErrInvalidConfig,
	KindNameCollision: ErrNameCollision,
	KindReservedName:  ErrReservedName,
}

// Error is returned by every Engine operation that fails.
type Error struct {
	Kind Kind
	Op   string // step that failed, e.g. "mirror", "rename", "finalize"
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func ioError(op, path string, err error) *Error {
	return newError(KindIOFailure, op, path, err)
}

func configError(format string, args ...any) *Error {
	return newError(KindInvalidConfig, "validate", "", fmt.Errorf(format, args...))
}

// KindOf returns the Kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
