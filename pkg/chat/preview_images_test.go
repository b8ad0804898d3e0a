package chat

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-x/llmx/pkg/blob"
)

// pngBytes renders a small solid image so the blob store's decode check
// passes. The pixel at (0,0) varies with seed so every seed yields distinct
// content.
func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Pix[0] = seed
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAddPreviewImagesPartialSuccess(t *testing.T) {
	blobs := blob.NewMemoryStore()
	handler := NewPreviewImageHandler(blobs)

	refs, err := handler.AddPreviewImages([][]byte{
		pngBytes(t, 1),
		[]byte("not an image"),
		pngBytes(t, 2),
	})

	require.Error(t, err)
	assert.Len(t, refs, 2)
	assert.Len(t, handler.PreviewImages(), 2)
}

func TestAddPreviewImageDeduplicates(t *testing.T) {
	handler := NewPreviewImageHandler(blob.NewMemoryStore())
	data := pngBytes(t, 1)

	first, err := handler.AddPreviewImage(data)
	require.NoError(t, err)
	second, err := handler.AddPreviewImage(data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, handler.PreviewImages(), 1)
}

func TestRemovePreviewImageKeepsBlob(t *testing.T) {
	blobs := blob.NewMemoryStore()
	handler := NewPreviewImageHandler(blobs)

	ref, err := handler.AddPreviewImage(pngBytes(t, 1))
	require.NoError(t, err)

	handler.RemovePreviewImage(ref)

	assert.Empty(t, handler.PreviewImages())
	_, _, ok := blobs.Get(ref)
	assert.True(t, ok, "removing a staged entry must not release the blob")
}

func TestCancelPreviewImagesReleasesStagedBlobs(t *testing.T) {
	blobs := blob.NewMemoryStore()
	handler := NewPreviewImageHandler(blobs)

	for seed := uint8(1); seed <= 3; seed++ {
		_, err := handler.AddPreviewImage(pngBytes(t, seed))
		require.NoError(t, err)
	}
	require.Equal(t, 3, blobs.Len())

	require.NoError(t, handler.CancelPreviewImages())

	assert.Empty(t, handler.PreviewImages())
	assert.Equal(t, 0, blobs.Len())
}

func TestCancelKeepsAdoptedRefs(t *testing.T) {
	blobs := blob.NewMemoryStore()
	handler := NewPreviewImageHandler(blobs)

	ref, err := blobs.Put(pngBytes(t, 1))
	require.NoError(t, err)

	message := NewMessageViewModel(&MessageModel{
		ID:         NewNodeID(),
		Variations: []*Variation{{Content: "see image", ImageURLs: []string{ref}}},
	})
	handler.SetMessage(message)
	require.Equal(t, []string{ref}, handler.PreviewImages())

	require.NoError(t, handler.CancelPreviewImages())

	_, _, ok := blobs.Get(ref)
	assert.True(t, ok, "adopted references belong to the message, not the staging")
}

func TestCommitPreviewImagesReturnsRefsAndClears(t *testing.T) {
	handler := NewPreviewImageHandler(blob.NewMemoryStore())

	ref, err := handler.AddPreviewImage(pngBytes(t, 1))
	require.NoError(t, err)

	urls := handler.CommitPreviewImages(NewNodeID())
	assert.Equal(t, []string{ref}, urls)
	assert.Empty(t, handler.PreviewImages())

	assert.Empty(t, handler.CommitPreviewImages(NewNodeID()))
}

func TestSetMessageNilClearsStaging(t *testing.T) {
	handler := NewPreviewImageHandler(blob.NewMemoryStore())

	_, err := handler.AddPreviewImage(pngBytes(t, 1))
	require.NoError(t, err)

	handler.SetMessage(nil)
	assert.Empty(t, handler.PreviewImages())
}
