// Package blobs - storage of section file content
package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrBlobNotFound no blob is stored under the reference
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidRef the blob reference is not a clean relative path
var ErrInvalidRef = errors.New("invalid blob reference")

// BlobStore content store of section files, addressed by slash separated references
// such as "sections/<slug>/<name>"
type BlobStore interface {
	/*
		Put store content under a reference, replacing any existing content

			@param ctx context.Context - execution context
			@param ref string - blob reference
			@param content io.Reader - the content
			@param size int64 - content size in bytes
	*/
	Put(ctx context.Context, ref string, content io.Reader, size int64) error

	/*
		Open stream the content of a blob

			@param ctx context.Context - execution context
			@param ref string - blob reference
			@returns content reader; caller must close it. ErrBlobNotFound when missing.
	*/
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	/*
		Delete remove a blob; removing a missing blob is not an error

			@param ctx context.Context - execution context
			@param ref string - blob reference
	*/
	Delete(ctx context.Context, ref string) error
}

// ValidateRef verify a reference is a clean relative slash separated path
func ValidateRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "\\") {
		return fmt.Errorf("'%s' [%w]", ref, ErrInvalidRef)
	}
	if path.Clean(ref) != ref {
		return fmt.Errorf("'%s' not in canonical form [%w]", ref, ErrInvalidRef)
	}
	for _, part := range strings.Split(ref, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("'%s' escapes the store [%w]", ref, ErrInvalidRef)
		}
	}
	return nil
}
