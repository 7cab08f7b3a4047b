package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultMaxLetterBytes is the upload ceiling for request letters (2 MiB)
const DefaultMaxLetterBytes int64 = 2 << 20

const letterDir = "request_letters"

var (
	ErrLetterTooLarge        = errors.New("request letter exceeds size limit")
	ErrUnsupportedLetterType = errors.New("request letter must be a PDF, JPEG or PNG file")
	ErrLetterMissing         = errors.New("request letter file missing")
)

var allowedLetterTypes = []string{"application/pdf", "image/jpeg", "image/png"}

// LetterStore persists uploaded borrowing request letters
type LetterStore interface {
	Store(ctx context.Context, r io.Reader, filename string) (string, error)
	Exists(ctx context.Context, letterPath string) (bool, error)
	Delete(ctx context.Context, letterPath string) error
	Open(ctx context.Context, letterPath string) (io.ReadCloser, string, error)
}

// DiskLetterStore keeps letters on an afero filesystem, rooted wherever the
// filesystem is rooted (a BasePathFs in production, a MemMapFs in tests).
type DiskLetterStore struct {
	fs       afero.Fs
	maxBytes int64
}

func NewDiskLetterStore(fs afero.Fs, maxBytes int64) *DiskLetterStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLetterBytes
	}
	return &DiskLetterStore{fs: fs, maxBytes: maxBytes}
}

// NewOSLetterStore roots the store at dir on the local disk
func NewOSLetterStore(dir string, maxBytes int64) *DiskLetterStore {
	return NewDiskLetterStore(afero.NewBasePathFs(afero.NewOsFs(), dir), maxBytes)
}

// Store validates the content and writes it under a fresh name. The original
// filename is only used as a fallback extension hint.
func (s *DiskLetterStore) Store(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read letter: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrLetterTooLarge
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedLetterTypes...) {
		return "", ErrUnsupportedLetterType
	}

	ext := mtype.Extension()
	if ext == "" {
		ext = strings.ToLower(path.Ext(filename))
	}

	if err := s.fs.MkdirAll(letterDir, 0o755); err != nil {
		return "", fmt.Errorf("create letter directory: %w", err)
	}

	letterPath := path.Join(letterDir, uuid.NewString()+ext)
	if err := afero.WriteFile(s.fs, letterPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write letter %s: %w", letterPath, err)
	}

	return letterPath, nil
}

func (s *DiskLetterStore) Exists(ctx context.Context, letterPath string) (bool, error) {
	return afero.Exists(s.fs, letterPath)
}

// Delete removes a letter; a file that is already gone is not an error
func (s *DiskLetterStore) Delete(ctx context.Context, letterPath string) error {
	err := s.fs.Remove(letterPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete letter %s: %w", letterPath, err)
	}
	return nil
}

// Open returns the letter content and its detected content type
func (s *DiskLetterStore) Open(ctx context.Context, letterPath string) (io.ReadCloser, string, error) {
	data, err := afero.ReadFile(s.fs, letterPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrLetterMissing
	}
	if err != nil {
		return nil, "", fmt.Errorf("open letter %s: %w", letterPath, err)
	}

	return io.NopCloser(bytes.NewReader(data)), mimetype.Detect(data).String(), nil
}
