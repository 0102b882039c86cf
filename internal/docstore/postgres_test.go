// internal/docstore/postgres_test.go
package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockDB is a mock of the DBTX interface.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	called := m.Called(ctx, sql, args)
	rows, _ := called.Get(0).(pgx.Rows)
	return rows, called.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgx.Row)
}

// row scans a fixed id and body, or fails with err.
type row struct {
	id   string
	body string
	err  error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.id
	*dest[1].(*[]byte) = []byte(r.body)
	return nil
}

func TestPostgresStore_SingleDocumentRetry(t *testing.T) {
	ctx := context.Background()
	gone := row{err: pgx.ErrNoRows}
	next := row{id: "id-2", body: `{"branch_name": "main", "commit_hash": "b"}`}

	t.Run("delete retries once when the locked row vanished", func(t *testing.T) {
		db := new(mockDB)
		db.On("QueryRow", ctx, deleteDocument, mock.Anything).Return(gone).Once()
		db.On("QueryRow", ctx, deleteDocument, mock.Anything).Return(next).Once()
		s := NewPostgresStore(db)

		doc, err := s.FindOneAndDelete(ctx, "commits_of_Luminol", Eq("branch_name", "main"))
		require.NoError(t, err)
		assert.Equal(t, "id-2", doc[IDField])
		assert.Equal(t, "b", doc["commit_hash"])
		db.AssertExpectations(t)
	})

	t.Run("replace retries once when the locked row vanished", func(t *testing.T) {
		db := new(mockDB)
		db.On("QueryRow", ctx, replaceDocument, mock.Anything).Return(gone).Once()
		db.On("QueryRow", ctx, replaceDocument, mock.Anything).Return(next).Once()
		s := NewPostgresStore(db)

		previous, err := s.FindOneAndReplace(ctx, "projects", Eq("project_name", "Luminol"), Document{"project_name": "Luminol"})
		require.NoError(t, err)
		assert.Equal(t, "id-2", previous[IDField])
		db.AssertExpectations(t)
	})

	t.Run("no match after the retry is ErrNoDocuments", func(t *testing.T) {
		db := new(mockDB)
		db.On("QueryRow", ctx, deleteDocument, mock.Anything).Return(gone).Twice()
		s := NewPostgresStore(db)

		_, err := s.FindOneAndDelete(ctx, "commits_of_Luminol", Eq("branch_name", "main"))
		assert.ErrorIs(t, err, ErrNoDocuments)
		db.AssertNumberOfCalls(t, "QueryRow", 2)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		db := new(mockDB)
		connErr := errors.New("connection reset")
		db.On("QueryRow", ctx, deleteDocument, mock.Anything).Return(row{err: connErr}).Once()
		s := NewPostgresStore(db)

		_, err := s.FindOneAndDelete(ctx, "commits_of_Luminol", Eq("branch_name", "main"))
		assert.Equal(t, connErr, err)
		db.AssertNumberOfCalls(t, "QueryRow", 1)
	})
}
