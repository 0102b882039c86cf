// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/docstore"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
)

// PartitionPrefix prefixes the commit collection of every project.
const PartitionPrefix = "commits_of_"

// Projects is the part of the project registry the ledger routes against.
type Projects interface {
	HasProject(ctx context.Context, name string) (bool, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
}

// Partition is the resolved commit collection of one project.
type Partition struct {
	Project    string
	Collection string
}

// PartitionFor returns the partition a project's commits live in.
func PartitionFor(project string) Partition {
	return Partition{Project: project, Collection: PartitionPrefix + project}
}

// Ledger stores commit history, one partition per project. Partitions are
// resolved when the ledger starts and again, on demand, for projects created
// later. Resolved partitions stay cached for the life of the process.
type Ledger struct {
	store    docstore.Store
	projects Projects
	policy   access.Policy
	logger   *slog.Logger

	partitions sync.Map // project name -> *Partition
	resolving  singleflight.Group
}

// NewLedger resolves a partition for every project the registry knows now.
func NewLedger(ctx context.Context, store docstore.Store, projects Projects, policy access.Policy, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		projects: projects,
		policy:   policy,
		logger:   logger.With("component", "ledger"),
	}

	known, err := projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range known {
		if _, err := l.open(ctx, p.Name); err != nil {
			return nil, err
		}
	}
	l.logger.Info("Commit partitions resolved", "count", len(known))
	return l, nil
}

// Resolved reports whether project's partition handle is cached.
func (l *Ledger) Resolved(project string) bool {
	_, ok := l.partitions.Load(project)
	return ok
}

// AppendCommit stores one commit in project's partition. No deduplication is
// done.
func (l *Ledger) AppendCommit(ctx context.Context, caller *access.Identity, project string, commit model.CommitData) error {
	_, err := l.AppendCommits(ctx, caller, project, []model.CommitData{commit})
	return err
}

// AppendCommits stores commits in order and returns how many were written
// before the first failure.
func (l *Ledger) AppendCommits(ctx context.Context, caller *access.Identity, project string, commits []model.CommitData) (int, error) {
	if err := l.policy.Authorize(caller); err != nil {
		return 0, err
	}
	p, err := l.resolve(ctx, project)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, &custom_errors.UnknownProjectError{Project: project}
	}

	for i, c := range commits {
		doc, err := model.CommitToDocument(c)
		if err != nil {
			return i, custom_errors.Malformed("commit", err)
		}
		if _, err := l.store.InsertOne(ctx, p.Collection, doc); err != nil {
			return i, custom_errors.StoreFailure("insert commit", err)
		}
	}

	l.logger.Debug("Commits appended", "project", project, "count", len(commits))
	return len(commits), nil
}

// GetCommits returns the commits of a branch sorted by ascending timestamp;
// commits with equal timestamps keep insertion order. An unknown project or a
// branch without commits yields an empty slice.
func (l *Ledger) GetCommits(ctx context.Context, project, branch string) ([]model.CommitData, error) {
	p, err := l.resolve(ctx, project)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return []model.CommitData{}, nil
	}

	docs, err := l.store.Find(ctx, p.Collection, docstore.Eq(model.FieldBranchName, branch))
	if err != nil {
		return nil, custom_errors.StoreFailure("find commits", err)
	}
	commits := make([]model.CommitData, 0, len(docs))
	for _, doc := range docs {
		c, err := model.CommitFromDocument(doc)
		if err != nil {
			return nil, custom_errors.StoreFailure("decode commit", err)
		}
		commits = append(commits, c)
	}
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].Timestamp < commits[j].Timestamp
	})
	return commits, nil
}

// LatestCommit returns the newest commit of a branch.
func (l *Ledger) LatestCommit(ctx context.Context, project, branch string) (model.CommitData, error) {
	commits, err := l.GetCommits(ctx, project, branch)
	if err != nil {
		return model.CommitData{}, err
	}
	if len(commits) == 0 {
		return model.CommitData{}, &custom_errors.NotFoundError{Resource: "commits", Key: project + "/" + branch}
	}
	return commits[len(commits)-1], nil
}

// DeleteBranchCommits removes a single commit of the branch (the earliest
// stored one) and returns it. Use PurgeBranchCommits to clear a branch.
func (l *Ledger) DeleteBranchCommits(ctx context.Context, caller *access.Identity, project, branch string) (model.CommitData, error) {
	if err := l.policy.Authorize(caller); err != nil {
		return model.CommitData{}, err
	}
	notFound := &custom_errors.NotFoundError{Resource: "commits", Key: project + "/" + branch}

	p, err := l.resolve(ctx, project)
	if err != nil {
		return model.CommitData{}, err
	}
	if p == nil {
		return model.CommitData{}, notFound
	}

	removed, err := l.store.FindOneAndDelete(ctx, p.Collection, docstore.Eq(model.FieldBranchName, branch))
	if errors.Is(err, docstore.ErrNoDocuments) {
		return model.CommitData{}, notFound
	}
	if err != nil {
		return model.CommitData{}, custom_errors.StoreFailure("delete commit", err)
	}
	c, err := model.CommitFromDocument(removed)
	if err != nil {
		return model.CommitData{}, custom_errors.StoreFailure("decode commit", err)
	}
	return c, nil
}

// PurgeBranchCommits removes every commit of the branch and returns how many
// were removed.
func (l *Ledger) PurgeBranchCommits(ctx context.Context, caller *access.Identity, project, branch string) (int64, error) {
	if err := l.policy.Authorize(caller); err != nil {
		return 0, err
	}
	p, err := l.resolve(ctx, project)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}

	n, err := l.store.DeleteMany(ctx, p.Collection, docstore.Eq(model.FieldBranchName, branch))
	if err != nil {
		return 0, custom_errors.StoreFailure("purge commits", err)
	}
	l.logger.Info("Branch commits purged", "project", project, "branch", branch, "count", n)
	return n, nil
}

// resolve returns the cached partition of project, opening it if the
// registry knows the project. It returns nil for unknown projects.
func (l *Ledger) resolve(ctx context.Context, project string) (*Partition, error) {
	if p, ok := l.partitions.Load(project); ok {
		return p.(*Partition), nil
	}

	v, err, _ := l.resolving.Do(project, func() (any, error) {
		if p, ok := l.partitions.Load(project); ok {
			return p, nil
		}
		exists, err := l.projects.HasProject(ctx, project)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
		return l.open(ctx, project)
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(*Partition)
	return p, nil
}

// open ensures the partition collection exists and caches its handle. When
// two callers race, the first stored handle wins.
func (l *Ledger) open(ctx context.Context, project string) (*Partition, error) {
	partition := PartitionFor(project)
	if err := l.store.EnsureCollection(ctx, partition.Collection); err != nil {
		return nil, custom_errors.StoreFailure("ensure commit partition", err)
	}
	actual, loaded := l.partitions.LoadOrStore(project, &partition)
	if !loaded {
		l.logger.Debug("Commit partition resolved", "project", project, "collection", partition.Collection)
	}
	return actual.(*Partition), nil
}
