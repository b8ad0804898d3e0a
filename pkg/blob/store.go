// Package blob stores message attachments content-addressed by their
// SHA-256 digest. Staged-vs-committed retention is tracked by the callers
// (the preview image handler), not by the store.
package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/pkg/errors"
)

const refScheme = "blob://sha256/"

var ErrNotAnImage = errors.New("data does not decode as a supported image")

// Store persists raw image bytes under a content-addressed reference.
type Store interface {
	// Put validates and stores the image, returning its stable reference.
	// Storing the same bytes twice yields the same reference.
	Put(data []byte) (string, error)
	// Get returns the stored bytes and media type for ref.
	Get(ref string) ([]byte, string, bool)
	// Release removes the blob behind ref. Releasing an unknown ref is a
	// no-op.
	Release(ref string) error
}

// RefForData computes the reference Put would return for data.
func RefForData(data []byte) string {
	sum := sha256.Sum256(data)
	return refScheme + hex.EncodeToString(sum[:])
}

// IsRef reports whether s looks like a store reference.
func IsRef(s string) bool {
	return strings.HasPrefix(s, refScheme)
}

// DecodeImage validates that data is a decodable image and returns its
// media type.
func DecodeImage(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(ErrNotAnImage, err.Error())
	}
	return fmt.Sprintf("image/%s", format), nil
}

// DataURL renders the blob behind ref as an inline data URL, used when
// exporting chats with images included and when building transcripts.
func DataURL(store Store, ref string) (string, bool) {
	data, mediaType, ok := store.Get(ref)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64Encode(data)), true
}
