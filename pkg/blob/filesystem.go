package blob

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FilesystemStore lays blobs out on disk under root, sharded by the first
// two digest characters. The media type is kept alongside the payload as a
// small sidecar file so Get does not have to re-decode.
type FilesystemStore struct {
	root string
}

var _ Store = (*FilesystemStore)(nil)

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create blob root %s", root)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) pathFor(ref string) (string, error) {
	digest := strings.TrimPrefix(ref, refScheme)
	if digest == ref || len(digest) < 3 {
		return "", errors.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(s.root, digest[:2], digest[2:]), nil
}

func (s *FilesystemStore) Put(data []byte) (string, error) {
	mediaType, err := DecodeImage(data)
	if err != nil {
		return "", err
	}

	ref := RefForData(data)
	path, err := s.pathFor(ref)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		// content-addressed, already present
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "could not create blob shard directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrap(err, "could not write blob")
	}
	if err := os.WriteFile(path+".type", []byte(mediaType), 0644); err != nil {
		return "", errors.Wrap(err, "could not write blob media type")
	}

	log.Debug().Str("ref", ref).Int("size", len(data)).Msg("stored blob")
	return ref, nil
}

func (s *FilesystemStore) Get(ref string) ([]byte, string, bool) {
	path, err := s.pathFor(ref)
	if err != nil {
		return nil, "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", false
	}
	mediaType, err := os.ReadFile(path + ".type")
	if err != nil {
		mediaType = []byte("application/octet-stream")
	}
	return data, string(mediaType), true
}

func (s *FilesystemStore) Release(ref string) error {
	path, err := s.pathFor(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not release blob %s", ref)
	}
	_ = os.Remove(path + ".type")
	return nil
}
