package domain

import (
	"fmt"
	"strings"
)

// DefaultExtensions lists the upload suffixes accepted when none are configured.
var DefaultExtensions = []string{".txt"}

// ValidateFilename checks that name ends with one of the allowed suffixes.
// The comparison is case-sensitive.
func ValidateFilename(name string, allowed []string) error {
	if strings.TrimSpace(name) == "" {
		return E(KindExtensionRejected, "validate filename", ErrEmptyFilename)
	}
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}
	for _, ext := range allowed {
		if strings.HasSuffix(name, ext) {
			return nil
		}
	}
	return E(KindExtensionRejected, "validate filename",
		fmt.Errorf("%w: only %s files are supported", ErrUnsupportedExtension, strings.Join(allowed, ", ")))
}

// ValidateQuery checks a search request before any embedding work starts.
func ValidateQuery(query string, topK int) error {
	if strings.TrimSpace(query) == "" {
		return E(KindInvalidInput, "validate query", ErrEmptyQuery)
	}
	if topK <= 0 {
		return E(KindInvalidInput, "validate query", fmt.Errorf("%w (got %d)", ErrInvalidTopK, topK))
	}
	return nil
}

// ValidateBatch enforces the one-entry-per-chunk contract of an index write.
func ValidateBatch(documents []string, metadatas []Metadata, ids []string) error {
	if len(documents) != len(metadatas) || len(documents) != len(ids) {
		return E(KindInvalidInput, "validate batch",
			fmt.Errorf("%w: %d/%d/%d", ErrLengthMismatch, len(documents), len(metadatas), len(ids)))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return E(KindInvalidInput, "validate batch", fmt.Errorf("%w %q", ErrDuplicateID, id))
		}
		seen[id] = struct{}{}
	}
	return nil
}
