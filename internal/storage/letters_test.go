package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pdfContent = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	pngContent = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
)

func TestDiskLetterStore_Store(t *testing.T) {
	ctx := context.Background()

	t.Run("pdf is stored under request_letters", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := NewDiskLetterStore(fs, 0)

		letterPath, err := store.Store(ctx, bytes.NewReader(pdfContent), "surat.pdf")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(letterPath, "request_letters/"))
		assert.True(t, strings.HasSuffix(letterPath, ".pdf"))

		stored, err := afero.ReadFile(fs, letterPath)
		require.NoError(t, err)
		assert.Equal(t, pdfContent, stored)
	})

	t.Run("png keeps detected extension", func(t *testing.T) {
		store := NewDiskLetterStore(afero.NewMemMapFs(), 0)

		letterPath, err := store.Store(ctx, bytes.NewReader(pngContent), "scan.bin")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(letterPath, ".png"))
	})

	t.Run("each upload gets a distinct name", func(t *testing.T) {
		store := NewDiskLetterStore(afero.NewMemMapFs(), 0)

		first, err := store.Store(ctx, bytes.NewReader(pdfContent), "a.pdf")
		require.NoError(t, err)
		second, err := store.Store(ctx, bytes.NewReader(pdfContent), "a.pdf")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("rejects other content types", func(t *testing.T) {
		store := NewDiskLetterStore(afero.NewMemMapFs(), 0)

		_, err := store.Store(ctx, strings.NewReader("just some text"), "notes.pdf")
		assert.ErrorIs(t, err, ErrUnsupportedLetterType)
	})

	t.Run("rejects oversized letters", func(t *testing.T) {
		store := NewDiskLetterStore(afero.NewMemMapFs(), 16)

		_, err := store.Store(ctx, bytes.NewReader(pdfContent), "big.pdf")
		assert.ErrorIs(t, err, ErrLetterTooLarge)
	})
}

func TestDiskLetterStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewDiskLetterStore(afero.NewMemMapFs(), 0)

	letterPath, err := store.Store(ctx, bytes.NewReader(pdfContent), "surat.pdf")
	require.NoError(t, err)

	exists, err := store.Exists(ctx, letterPath)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, contentType, err := store.Open(ctx, letterPath)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, pdfContent, body)
	assert.Equal(t, "application/pdf", contentType)

	require.NoError(t, store.Delete(ctx, letterPath))

	exists, err = store.Exists(ctx, letterPath)
	require.NoError(t, err)
	assert.False(t, exists)

	// deleting twice is harmless
	assert.NoError(t, store.Delete(ctx, letterPath))

	_, _, err = store.Open(ctx, letterPath)
	assert.ErrorIs(t, err, ErrLetterMissing)
}
