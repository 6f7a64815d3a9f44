package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// localStore implements BlobStore over a directory tree
type localStore struct {
	goutils.Component
	root string
}

/*
NewLocalStore define a blob store backed by a local directory

	@param root string - store root directory; created when missing
	@returns store instance
*/
func NewLocalStore(root string) (BlobStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve blob root '%s' [%w]", root, err)
	}
	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return nil, fmt.Errorf("unable to create blob root '%s' [%w]", absRoot, err)
	}

	logTags := log.Fields{
		"package": "ephemera", "module": "blobs", "component": "local-store", "root": absRoot,
	}
	return &localStore{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		root: absRoot,
	}, nil
}

func (s *localStore) pathOf(ref string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(ref)), nil
}

func (s *localStore) Put(ctx context.Context, ref string, content io.Reader, size int64) error {
	target, err := s.pathOf(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("unable to create parent of blob '%s' [%w]", ref, err)
	}

	// Write aside then rename, so readers never see a partial blob
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("unable to stage blob '%s' [%w]", ref, err)
	}
	// One byte past size is enough to tell an oversized body
	written, err := io.Copy(tmp, io.LimitReader(content, size+1))
	closeErr := tmp.Close()
	if err == nil && written != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", written, size)
	}
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("unable to write blob '%s' [%w]", ref, err)
	}

	log.WithFields(s.GetLogTagsForContext(ctx)).
		WithField("ref", ref).
		WithField("size", size).
		Debug("Stored blob")
	return nil
}

func (s *localStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	target, err := s.pathOf(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("'%s' [%w]", ref, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("unable to open blob '%s' [%w]", ref, err)
	}
	return file, nil
}

func (s *localStore) Delete(ctx context.Context, ref string) error {
	target, err := s.pathOf(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to delete blob '%s' [%w]", ref, err)
	}

	// Prune now empty directories up to the root
	for dir := filepath.Dir(target); dir != s.root; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	log.WithFields(s.GetLogTagsForContext(ctx)).WithField("ref", ref).Debug("Deleted blob")
	return nil
}
