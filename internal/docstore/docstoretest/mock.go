// internal/docstore/docstoretest/mock.go
package docstoretest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/LuminolMC/StarFall/internal/docstore"
)

// MockStore is a mock of the docstore.Store interface.
type MockStore struct {
	mock.Mock
}

var _ docstore.Store = (*MockStore)(nil)

func (m *MockStore) EnsureCollection(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockStore) InsertOne(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	args := m.Called(ctx, collection, doc)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Find(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	args := m.Called(ctx, collection, filter)
	docs, _ := args.Get(0).([]docstore.Document)
	return docs, args.Error(1)
}

func (m *MockStore) FindOneAndReplace(ctx context.Context, collection string, filter docstore.Filter, doc docstore.Document) (docstore.Document, error) {
	args := m.Called(ctx, collection, filter, doc)
	previous, _ := args.Get(0).(docstore.Document)
	return previous, args.Error(1)
}

func (m *MockStore) FindOneAndDelete(ctx context.Context, collection string, filter docstore.Filter) (docstore.Document, error) {
	args := m.Called(ctx, collection, filter)
	removed, _ := args.Get(0).(docstore.Document)
	return removed, args.Error(1)
}

func (m *MockStore) DeleteMany(ctx context.Context, collection string, filter docstore.Filter) (int64, error) {
	args := m.Called(ctx, collection, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}
