package docstore

import (
	"fmt"
	"strings"
)

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Segments splits a path and rejects empty segments.
func Segments(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// DocRef is a parsed document path.
type DocRef struct {
	Path       string
	Parent     string // collection path
	Collection string // last collection segment
	ID         string
}

// ParseDoc validates a document path (an even number of segments).
func ParseDoc(path string) (DocRef, error) {
	parts, err := Segments(path)
	if err != nil {
		return DocRef{}, err
	}
	if len(parts)%2 != 0 {
		return DocRef{}, fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, path)
	}
	return DocRef{
		Path:       path,
		Parent:     strings.Join(parts[:len(parts)-1], "/"),
		Collection: parts[len(parts)-2],
		ID:         parts[len(parts)-1],
	}, nil
}

// ValidateCollection checks a collection path (an odd number of segments).
func ValidateCollection(path string) error {
	parts, err := Segments(path)
	if err != nil {
		return err
	}
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, path)
	}
	return nil
}

// ParentDoc returns the document owning the collection that contains path,
// or "" for a top-level document.
func ParentDoc(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 4 {
		return ""
	}
	return strings.Join(parts[:len(parts)-2], "/")
}
