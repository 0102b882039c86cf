// internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/docstore"
	"github.com/LuminolMC/StarFall/internal/docstore/docstoretest"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
	"github.com/LuminolMC/StarFall/internal/registry"
)

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	caller = &access.Identity{Principal: "ci"}
)

type fixture struct {
	store    *docstore.MemoryStore
	registry *registry.Registry
	ledger   *Ledger
}

func newFixture(t *testing.T, projects ...string) fixture {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	reg, err := registry.NewRegistry(ctx, store, access.Policy{}, logger)
	require.NoError(t, err)
	for _, name := range projects {
		_, _, err := reg.CreateProject(ctx, caller, name)
		require.NoError(t, err)
	}
	l, err := NewLedger(ctx, store, reg, access.Policy{}, logger)
	require.NoError(t, err)
	return fixture{store: store, registry: reg, ledger: l}
}

func TestLedger_LuminolScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.registry.CreateProject(ctx, caller, "Luminol")
	require.NoError(t, err)

	commit := model.CommitData{Message: "init", Authors: []string{"alice"}, CommitHash: "abc123", Timestamp: 1700000000, BranchName: "main"}
	require.NoError(t, f.ledger.AppendCommit(ctx, caller, "Luminol", commit))

	commits, err := f.ledger.GetCommits(ctx, "Luminol", "main")
	require.NoError(t, err)
	assert.Equal(t, []model.CommitData{commit}, commits)
}

func TestLedger_AppendAndGet(t *testing.T) {
	ctx := context.Background()

	t.Run("all appended commits come back sorted by timestamp", func(t *testing.T) {
		f := newFixture(t, "Luminol")
		appended := []model.CommitData{
			{Message: "c", CommitHash: "3", Timestamp: 30, BranchName: "main", Authors: []string{"a"}},
			{Message: "a", CommitHash: "1", Timestamp: 10, BranchName: "main", Authors: []string{}},
			{Message: "b", CommitHash: "2", Timestamp: 20, BranchName: "main", Authors: []string{"a", "b"}},
			{Message: "b-dup", CommitHash: "2", Timestamp: 20, BranchName: "main", Authors: []string{"a"}},
			{Message: "other branch", CommitHash: "9", Timestamp: 5, BranchName: "dev", Authors: []string{}},
		}
		n, err := f.ledger.AppendCommits(ctx, caller, "Luminol", appended)
		require.NoError(t, err)
		assert.Equal(t, len(appended), n)

		commits, err := f.ledger.GetCommits(ctx, "Luminol", "main")
		require.NoError(t, err)
		assert.ElementsMatch(t, appended[:4], commits)
		hashes := []string{}
		for _, c := range commits {
			hashes = append(hashes, c.Message)
		}
		assert.Equal(t, []string{"a", "b", "b-dup", "c"}, hashes, "stable sort keeps insertion order on ties")

		latest, err := f.ledger.LatestCommit(ctx, "Luminol", "main")
		require.NoError(t, err)
		assert.Equal(t, "3", latest.CommitHash)
	})

	t.Run("unknown project or empty branch reads as empty", func(t *testing.T) {
		f := newFixture(t, "Luminol")

		commits, err := f.ledger.GetCommits(ctx, "Ghost", "main")
		require.NoError(t, err)
		assert.NotNil(t, commits)
		assert.Empty(t, commits)

		commits, err = f.ledger.GetCommits(ctx, "Luminol", "no-such-branch")
		require.NoError(t, err)
		assert.Empty(t, commits)

		_, err = f.ledger.LatestCommit(ctx, "Luminol", "main")
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)
	})

	t.Run("append to an unknown project fails", func(t *testing.T) {
		f := newFixture(t)
		err := f.ledger.AppendCommit(ctx, caller, "Ghost", model.CommitData{BranchName: "main"})
		assert.ErrorIs(t, err, custom_errors.ErrUnknownProject)
		assert.False(t, f.ledger.Resolved("Ghost"))
	})

	t.Run("identity policy gates appends before routing", func(t *testing.T) {
		ctx := context.Background()
		store := docstore.NewMemoryStore()
		reg, err := registry.NewRegistry(ctx, store, access.Policy{}, logger)
		require.NoError(t, err)
		_, _, err = reg.CreateProject(ctx, caller, "Luminol")
		require.NoError(t, err)
		l, err := NewLedger(ctx, store, reg, access.Policy{RequireIdentity: true}, logger)
		require.NoError(t, err)

		err = l.AppendCommit(ctx, nil, "Luminol", model.CommitData{BranchName: "main"})
		assert.ErrorIs(t, err, custom_errors.ErrUnauthorized)
		commits, err := l.GetCommits(ctx, "Luminol", "main")
		require.NoError(t, err)
		assert.Empty(t, commits)
	})
}

func TestLedger_PartitionResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("projects known at start are resolved eagerly", func(t *testing.T) {
		f := newFixture(t, "Luminol", "Leaves")
		assert.True(t, f.ledger.Resolved("Luminol"))
		assert.True(t, f.ledger.Resolved("Leaves"))
	})

	t.Run("projects created after start resolve on first access", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.registry.CreateProject(ctx, caller, "LightingLuminol")
		require.NoError(t, err)
		assert.False(t, f.ledger.Resolved("LightingLuminol"))

		require.NoError(t, f.ledger.AppendCommit(ctx, caller, "LightingLuminol", model.CommitData{CommitHash: "x", BranchName: "main"}))
		assert.True(t, f.ledger.Resolved("LightingLuminol"))

		docs, err := f.store.Find(ctx, PartitionFor("LightingLuminol").Collection, docstore.Filter{})
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("a rejected rename keeps history routed to the original name", func(t *testing.T) {
		f := newFixture(t, "Luminol")
		commit := model.CommitData{CommitHash: "abc123", Timestamp: 1700000000, BranchName: "main", Authors: []string{}}
		require.NoError(t, f.ledger.AppendCommit(ctx, caller, "Luminol", commit))

		_, err := f.registry.UpdateProject(ctx, caller, "Luminol", model.Project{Name: "StarLuminol"})
		assert.ErrorIs(t, err, custom_errors.ErrMalformedInput)

		exists, err := f.registry.HasProject(ctx, "StarLuminol")
		require.NoError(t, err)
		assert.False(t, exists)
		assert.False(t, f.ledger.Resolved("StarLuminol"))

		renamed, err := f.ledger.GetCommits(ctx, "StarLuminol", "main")
		require.NoError(t, err)
		assert.Empty(t, renamed)

		original, err := f.ledger.GetCommits(ctx, "Luminol", "main")
		require.NoError(t, err)
		assert.Equal(t, []model.CommitData{commit}, original)
		require.NoError(t, f.ledger.AppendCommit(ctx, caller, "Luminol", model.CommitData{CommitHash: "def456", Timestamp: 1700000100, BranchName: "main"}))
	})

	t.Run("concurrent appends to fresh projects never leak across partitions", func(t *testing.T) {
		const n = 32
		f := newFixture(t)

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("project-%02d", i)
				if _, _, err := f.registry.CreateProject(ctx, caller, name); err != nil {
					errs <- err
					return
				}
				errs <- f.ledger.AppendCommit(ctx, caller, name, model.CommitData{
					Message:    "first commit of " + name,
					Authors:    []string{name},
					CommitHash: name,
					Timestamp:  int64(i),
					BranchName: "main",
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for i := 0; i < n; i++ {
			name := fmt.Sprintf("project-%02d", i)
			commits, err := f.ledger.GetCommits(ctx, name, "main")
			require.NoError(t, err)
			require.Len(t, commits, 1, name)
			assert.Equal(t, name, commits[0].CommitHash)

			docs, err := f.store.Find(ctx, PartitionFor(name).Collection, docstore.Filter{})
			require.NoError(t, err)
			assert.Len(t, docs, 1, name)
		}
	})

	t.Run("concurrent first access to one project opens it once", func(t *testing.T) {
		store := new(docstoretest.MockStore)
		projects := new(mockProjects)
		projects.On("ListProjects", mock.Anything).Return([]model.Project{}, nil).Once()
		projects.On("HasProject", mock.Anything, "Luminol").Return(true, nil)
		store.On("EnsureCollection", mock.Anything, "commits_of_Luminol").Return(nil)
		store.On("Find", mock.Anything, "commits_of_Luminol", mock.Anything).Return([]docstore.Document{}, nil)

		l, err := NewLedger(ctx, store, projects, access.Policy{}, logger)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.GetCommits(ctx, "Luminol", "main")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.True(t, l.Resolved("Luminol"))
		ensures := 0
		for _, call := range store.Calls {
			if call.Method == "EnsureCollection" {
				ensures++
			}
		}
		assert.Equal(t, 1, ensures)
	})

	t.Run("registry failure during resolution is a store failure, not an empty result", func(t *testing.T) {
		store := new(docstoretest.MockStore)
		projects := new(mockProjects)
		projects.On("ListProjects", mock.Anything).Return([]model.Project{}, nil).Once()
		projects.On("HasProject", mock.Anything, "Luminol").Return(false, custom_errors.StoreFailure("find project", context.Canceled)).Once()

		l, err := NewLedger(ctx, store, projects, access.Policy{}, logger)
		require.NoError(t, err)

		_, err = l.GetCommits(ctx, "Luminol", "main")
		assert.ErrorIs(t, err, custom_errors.ErrCancelled)
		assert.False(t, l.Resolved("Luminol"))
	})
}

func TestLedger_Deletion(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, f fixture) {
		for i, branch := range []string{"main", "main", "main", "dev"} {
			require.NoError(t, f.ledger.AppendCommit(ctx, caller, "Luminol", model.CommitData{
				CommitHash: fmt.Sprintf("%s-%d", branch, i),
				Timestamp:  int64(i),
				BranchName: branch,
			}))
		}
	}

	t.Run("single delete removes exactly one commit", func(t *testing.T) {
		f := newFixture(t, "Luminol")
		seed(t, f)

		removed, err := f.ledger.DeleteBranchCommits(ctx, caller, "Luminol", "main")
		require.NoError(t, err)
		assert.Equal(t, "main-0", removed.CommitHash)

		left, err := f.ledger.GetCommits(ctx, "Luminol", "main")
		require.NoError(t, err)
		assert.Len(t, left, 2)

		_, err = f.ledger.DeleteBranchCommits(ctx, caller, "Luminol", "release")
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)
		_, err = f.ledger.DeleteBranchCommits(ctx, caller, "Ghost", "main")
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)
	})

	t.Run("purge removes every commit of the branch and nothing else", func(t *testing.T) {
		f := newFixture(t, "Luminol")
		seed(t, f)

		n, err := f.ledger.PurgeBranchCommits(ctx, caller, "Luminol", "main")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		left, err := f.ledger.GetCommits(ctx, "Luminol", "main")
		require.NoError(t, err)
		assert.Empty(t, left)

		dev, err := f.ledger.GetCommits(ctx, "Luminol", "dev")
		require.NoError(t, err)
		assert.Len(t, dev, 1)
	})

	t.Run("store failure on delete is not reported as not found", func(t *testing.T) {
		store := new(docstoretest.MockStore)
		projects := new(mockProjects)
		projects.On("ListProjects", mock.Anything).Return([]model.Project{{Name: "Luminol"}}, nil).Once()
		store.On("EnsureCollection", mock.Anything, "commits_of_Luminol").Return(nil).Once()
		store.On("FindOneAndDelete", mock.Anything, "commits_of_Luminol", mock.Anything).Return(nil, errors.New("broken pipe")).Once()

		l, err := NewLedger(ctx, store, projects, access.Policy{}, logger)
		require.NoError(t, err)

		_, err = l.DeleteBranchCommits(ctx, caller, "Luminol", "main")
		assert.ErrorIs(t, err, custom_errors.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, custom_errors.ErrNotFound)
		store.AssertExpectations(t)
	})
}

// mockProjects is a mock of the Projects interface.
type mockProjects struct {
	mock.Mock
}

func (m *mockProjects) HasProject(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockProjects) ListProjects(ctx context.Context) ([]model.Project, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Project), args.Error(1)
}
