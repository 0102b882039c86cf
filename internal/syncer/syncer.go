// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LuminolMC/StarFall/internal/access"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
)

const (
	// Number of sources to sync in parallel
	concurrency = 5
)

// Source maps one project branch to the GitHub repository it is imported from.
type Source struct {
	Project string
	Branch  string
	Owner   string
	Repo    string
}

// Projects is the part of the project registry the syncer writes through.
type Projects interface {
	GetProject(ctx context.Context, name string) (model.Project, error)
	CreateProject(ctx context.Context, caller *access.Identity, name string) (string, model.Project, error)
	UpdateProject(ctx context.Context, caller *access.Identity, name string, state model.Project) (model.Project, error)
}

// Commits is the part of the commit ledger the syncer writes through.
type Commits interface {
	LatestCommit(ctx context.Context, project, branch string) (model.CommitData, error)
	AppendCommits(ctx context.Context, caller *access.Identity, project string, commits []model.CommitData) (int, error)
}

// CommitSource fetches branch history from upstream.
type CommitSource interface {
	GetBranchCommits(ctx context.Context, owner, repo, branch string, since time.Time) ([]model.CommitData, error)
}

// Syncer periodically imports upstream commits into the ledger.
type Syncer struct {
	projects     Projects
	commits      Commits
	upstream     CommitSource
	logger       *slog.Logger
	sources      []Source
	syncInterval time.Duration
	defaultSince time.Time

	// ensureMu serialises project read-modify-write so two sources of one
	// project do not drop each other's branch.
	ensureMu sync.Mutex
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(projects Projects, commits Commits, upstream CommitSource, logger *slog.Logger, sources []string, interval time.Duration, defaultSince time.Time) (*Syncer, error) {
	parsed, err := ParseSources(sources)
	if err != nil {
		return nil, err
	}

	return &Syncer{
		projects:     projects,
		commits:      commits,
		upstream:     upstream,
		logger:       logger.With("component", "syncer"),
		sources:      parsed,
		syncInterval: interval,
		defaultSince: defaultSince,
	}, nil
}

// Start begins the continuous synchronization process.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.syncInterval.String(), "concurrency", concurrency, "sources", len(s.sources))
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.RunOnce(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// RunOnce performs a synchronization pass for all configured sources
// concurrently. Failures are logged per source.
func (s *Syncer) RunOnce(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, src := range s.sources {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := s.SyncSource(gctx, src)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync source", "project", src.Project, "branch", src.Branch, "owner", src.Owner, "repo", src.Repo, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Sync cycle finished with an error", "error", err)
	} else {
		s.logger.Info("Sync cycle finished")
	}
}

// SyncSource imports the new upstream commits of one source.
func (s *Syncer) SyncSource(ctx context.Context, src Source) error {
	logger := s.logger.With("project", src.Project, "branch", src.Branch, "owner", src.Owner, "repo", src.Repo)
	logger.Info("Syncing source")

	if err := s.ensureBranch(ctx, src); err != nil {
		return err
	}

	latest, since, err := s.getSince(ctx, src)
	if err != nil {
		return err
	}
	logger.Info("Fetching commits since", "timestamp", since.Format(time.RFC3339))

	fetched, err := s.upstream.GetBranchCommits(ctx, src.Owner, src.Repo, src.Branch, since)
	if err != nil {
		return err
	}

	fresh := make([]model.CommitData, 0, len(fetched))
	for _, c := range fetched {
		if latest != nil && c.CommitHash == latest.CommitHash {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		logger.Info("No new commits found")
		return nil
	}

	logger.Info("Found new commits", "count", len(fresh))
	n, err := s.commits.AppendCommits(ctx, access.Service, src.Project, fresh)
	if err != nil {
		return err
	}
	logger.Info("Successfully appended commits to ledger", "count", n)
	return nil
}

// ensureBranch creates the project if needed and declares the branch on it.
func (s *Syncer) ensureBranch(ctx context.Context, src Source) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	project, err := s.projects.GetProject(ctx, src.Project)
	if errors.Is(err, custom_errors.ErrNotFound) {
		s.logger.Info("Project not found in registry, creating new entry", "project", src.Project)
		_, project, err = s.projects.CreateProject(ctx, access.Service, src.Project)
	}
	if err != nil {
		return err
	}

	if project.HasBranch(src.Branch) {
		return nil
	}
	s.logger.Info("Declaring branch on project", "project", src.Project, "branch", src.Branch)
	project.Branches = append(project.Branches, model.BranchInfo{Name: src.Branch})
	_, err = s.projects.UpdateProject(ctx, access.Service, src.Project, project)
	return err
}

// getSince returns the newest stored commit of the branch, if any, and the
// time to fetch upstream commits from.
func (s *Syncer) getSince(ctx context.Context, src Source) (*model.CommitData, time.Time, error) {
	latest, err := s.commits.LatestCommit(ctx, src.Project, src.Branch)
	if errors.Is(err, custom_errors.ErrNotFound) {
		s.logger.Info("No existing commits found for branch, using default start date", "project", src.Project, "branch", src.Branch, "default_since", s.defaultSince)
		return nil, s.defaultSince, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	s.logger.Info("Found latest commit in ledger", "project", src.Project, "branch", src.Branch, "timestamp", latest.Timestamp)
	return &latest, time.Unix(latest.Timestamp, 0).Add(1 * time.Second), nil
}

// ParseSources parses 'project/branch=owner/repo' entries. The branch may
// itself contain slashes; the project may not.
func ParseSources(sources []string) ([]Source, error) {
	var parsed []Source
	for _, raw := range sources {
		target, origin, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, &custom_errors.ErrInvalidSourceFormat{Source: raw}
		}
		project, branch, ok := strings.Cut(target, "/")
		if !ok || project == "" || branch == "" {
			return nil, &custom_errors.ErrInvalidSourceFormat{Source: raw}
		}
		parts := strings.Split(origin, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, &custom_errors.ErrInvalidSourceFormat{Source: raw}
		}
		parsed = append(parsed, Source{Project: project, Branch: branch, Owner: parts[0], Repo: parts[1]})
	}
	return parsed, nil
}
