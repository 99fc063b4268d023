package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on cause instead of text.
type Kind int

const (
	KindUnknown Kind = iota
	KindExtensionRejected
	KindInvalidInput
	KindReadFailure
	KindEmbedFailure
	KindStoreFailure
)

func (k Kind) String() string {
	switch k {
	case KindExtensionRejected:
		return "extension_rejected"
	case KindInvalidInput:
		return "invalid_input"
	case KindReadFailure:
		return "read_failure"
	case KindEmbedFailure:
		return "embed_failure"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// MarshalText lets kinds appear by name in JSON status records.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText. Unknown names
// decode to KindUnknown.
func (k *Kind) UnmarshalText(text []byte) error {
	for c := KindUnknown; c <= KindStoreFailure; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	*k = KindUnknown
	return nil
}

// Sentinel errors for input validation.
var (
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrEmptyFilename        = errors.New("filename is required")
	ErrEmptyQuery           = errors.New("query is required")
	ErrInvalidTopK          = errors.New("top_k must be positive")
	ErrLengthMismatch       = errors.New("documents, metadatas and ids differ in length")
	ErrDuplicateID          = errors.New("duplicate id")
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
