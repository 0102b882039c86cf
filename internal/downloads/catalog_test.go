// internal/downloads/catalog_test.go
package downloads

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/docstore"
	"github.com/LuminolMC/StarFall/internal/docstore/docstoretest"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
)

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	caller = &access.Identity{Principal: "ci"}
)

func newCatalog(t *testing.T) *Catalog {
	c, err := NewCatalog(context.Background(), docstore.NewMemoryStore(), access.Policy{}, logger)
	require.NoError(t, err)
	return c
}

func release(tag, branch, link string) model.DownloadInfo {
	return model.DownloadInfo{
		ReleaseTag: tag,
		BranchName: branch,
		MCVersion:  "1.21.4",
		Commits: []model.CommitData{
			{Message: "init", Authors: []string{"alice"}, CommitHash: "abc123", Timestamp: 1700000000, BranchName: branch},
		},
		DownloadLink: link,
	}
}

func TestCatalog_AddAndGet(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	info := release("1.21.4-42", "ver/1.21.4", "https://example.org/luminol-42.jar")
	require.NoError(t, c.AddDownload(ctx, caller, info))

	got, err := c.GetDownload(ctx, "1.21.4-42")
	require.NoError(t, err)
	assert.Equal(t, info, got)

	_, err = c.GetDownload(ctx, "missing")
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestCatalog_DuplicateTagsResolveToFirst(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	first := release("dup", "main", "https://example.org/first.jar")
	second := release("dup", "main", "https://example.org/second.jar")
	require.NoError(t, c.AddDownload(ctx, caller, first))
	require.NoError(t, c.AddDownload(ctx, caller, second))

	for i := 0; i < 5; i++ {
		got, err := c.GetDownload(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, first.DownloadLink, got.DownloadLink)
	}
}

func TestCatalog_ListDownloadsForBranch(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	list, err := c.ListDownloadsForBranch(ctx, "main")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	require.NoError(t, c.AddDownload(ctx, caller, release("a", "main", "l1")))
	require.NoError(t, c.AddDownload(ctx, caller, release("b", "dev", "l2")))
	require.NoError(t, c.AddDownload(ctx, caller, release("c", "main", "l3")))

	list, err = c.ListDownloadsForBranch(ctx, "main")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ReleaseTag)
	assert.Equal(t, "c", list[1].ReleaseTag)

	// A snapshot without commits still reads back as an empty list.
	require.NoError(t, c.AddDownload(ctx, caller, model.DownloadInfo{ReleaseTag: "bare", BranchName: "bare"}))
	bare, err := c.GetDownload(ctx, "bare")
	require.NoError(t, err)
	assert.Equal(t, []model.CommitData{}, bare.Commits)
}

func TestCatalog_Policy(t *testing.T) {
	ctx := context.Background()
	c, err := NewCatalog(ctx, docstore.NewMemoryStore(), access.Policy{RequireIdentity: true}, logger)
	require.NoError(t, err)

	err = c.AddDownload(ctx, nil, release("x", "main", "l"))
	assert.ErrorIs(t, err, custom_errors.ErrUnauthorized)
	_, err = c.GetDownload(ctx, "x")
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestCatalog_StoreFailures(t *testing.T) {
	ctx := context.Background()

	store := new(docstoretest.MockStore)
	store.On("EnsureCollection", ctx, Collection).Return(nil).Once()
	store.On("Find", mock.Anything, Collection, mock.Anything).Return(nil, context.DeadlineExceeded).Once()
	store.On("InsertOne", mock.Anything, Collection, mock.Anything).Return("", errors.New("connection refused")).Once()

	c, err := NewCatalog(ctx, store, access.Policy{}, logger)
	require.NoError(t, err)

	_, err = c.GetDownload(ctx, "1.21.4-42")
	assert.ErrorIs(t, err, custom_errors.ErrTimeout)
	assert.NotErrorIs(t, err, custom_errors.ErrNotFound)

	err = c.AddDownload(ctx, caller, release("x", "main", "l"))
	assert.ErrorIs(t, err, custom_errors.ErrStoreUnavailable)
	store.AssertExpectations(t)
}
