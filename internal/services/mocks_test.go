package services

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

type MockLetterStore struct {
	mock.Mock
}

func (m *MockLetterStore) Store(ctx context.Context, r io.Reader, filename string) (string, error) {
	args := m.Called(ctx, r, filename)
	return args.String(0), args.Error(1)
}

func (m *MockLetterStore) Exists(ctx context.Context, letterPath string) (bool, error) {
	args := m.Called(ctx, letterPath)
	return args.Bool(0), args.Error(1)
}

func (m *MockLetterStore) Delete(ctx context.Context, letterPath string) error {
	args := m.Called(ctx, letterPath)
	return args.Error(0)
}

func (m *MockLetterStore) Open(ctx context.Context, letterPath string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, letterPath)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

type MockOrphanQueue struct {
	mock.Mock
}

func (m *MockOrphanQueue) Push(ctx context.Context, letterPath string) error {
	args := m.Called(ctx, letterPath)
	return args.Error(0)
}

func (m *MockOrphanQueue) Pop(ctx context.Context) (string, bool, error) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1), args.Error(2)
}
