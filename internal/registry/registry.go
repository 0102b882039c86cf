// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/docstore"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
)

// Collection holds one document per project.
const Collection = "projects"

var errRename = errors.New("projects cannot be renamed")

// Registry owns the set of known projects and their declared branches.
type Registry struct {
	store  docstore.Store
	policy access.Policy
	logger *slog.Logger

	// writeMu serialises creates so the existence check and the insert
	// cannot interleave within this process.
	writeMu sync.Mutex
}

// NewRegistry ensures the projects collection exists and returns a Registry.
func NewRegistry(ctx context.Context, store docstore.Store, policy access.Policy, logger *slog.Logger) (*Registry, error) {
	if err := store.EnsureCollection(ctx, Collection); err != nil {
		return nil, custom_errors.StoreFailure("ensure projects collection", err)
	}
	return &Registry{
		store:  store,
		policy: policy,
		logger: logger.With("component", "registry"),
	}, nil
}

// CreateProject persists a new project with no branches and returns its store
// id. It fails with a ConflictError if the name is taken.
func (r *Registry) CreateProject(ctx context.Context, caller *access.Identity, name string) (string, model.Project, error) {
	if err := r.policy.Authorize(caller); err != nil {
		return "", model.Project{}, err
	}
	if name == "" {
		return "", model.Project{}, custom_errors.Malformed("project name", errors.New("must not be empty"))
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	exists, err := r.HasProject(ctx, name)
	if err != nil {
		return "", model.Project{}, err
	}
	if exists {
		return "", model.Project{}, &custom_errors.ConflictError{Resource: "project", Key: name}
	}

	project := model.Project{Name: name, Branches: []model.BranchInfo{}}
	doc, err := model.ProjectToDocument(project)
	if err != nil {
		return "", model.Project{}, custom_errors.Malformed("project", err)
	}
	id, err := r.store.InsertOne(ctx, Collection, doc)
	if err != nil {
		return "", model.Project{}, custom_errors.StoreFailure("insert project", err)
	}

	r.logger.Info("Project created", "project", name, "id", id)
	return id, project, nil
}

// GetProject returns the project called name.
func (r *Registry) GetProject(ctx context.Context, name string) (model.Project, error) {
	docs, err := r.store.Find(ctx, Collection, docstore.Eq(model.FieldProjectName, name))
	if err != nil {
		return model.Project{}, custom_errors.StoreFailure("find project", err)
	}
	if len(docs) == 0 {
		return model.Project{}, &custom_errors.NotFoundError{Resource: "project", Key: name}
	}
	return decodeProject(docs[0])
}

// ListProjects returns a snapshot of every known project.
func (r *Registry) ListProjects(ctx context.Context) ([]model.Project, error) {
	docs, err := r.store.Find(ctx, Collection, docstore.Filter{})
	if err != nil {
		return nil, custom_errors.StoreFailure("list projects", err)
	}
	projects := make([]model.Project, 0, len(docs))
	for _, doc := range docs {
		p, err := decodeProject(doc)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// UpdateProject replaces the whole project record and returns the previous
// state. An empty state name keeps the current name. Projects cannot be
// renamed: the name keys the project's commit partition.
func (r *Registry) UpdateProject(ctx context.Context, caller *access.Identity, name string, state model.Project) (model.Project, error) {
	if err := r.policy.Authorize(caller); err != nil {
		return model.Project{}, err
	}
	if state.Name == "" {
		state.Name = name
	}
	if state.Name != name {
		return model.Project{}, custom_errors.Malformed("project name", errRename)
	}

	doc, err := model.ProjectToDocument(state)
	if err != nil {
		return model.Project{}, custom_errors.Malformed("project", err)
	}
	previous, err := r.store.FindOneAndReplace(ctx, Collection, docstore.Eq(model.FieldProjectName, name), doc)
	if errors.Is(err, docstore.ErrNoDocuments) {
		return model.Project{}, &custom_errors.NotFoundError{Resource: "project", Key: name}
	}
	if err != nil {
		return model.Project{}, custom_errors.StoreFailure("replace project", err)
	}

	r.logger.Info("Project updated", "project", name, "branches", len(state.Branches))
	return decodeProject(previous)
}

// DeleteProject removes the project record and returns it. The project's
// commit partition is left in place.
func (r *Registry) DeleteProject(ctx context.Context, caller *access.Identity, name string) (model.Project, error) {
	if err := r.policy.Authorize(caller); err != nil {
		return model.Project{}, err
	}

	removed, err := r.store.FindOneAndDelete(ctx, Collection, docstore.Eq(model.FieldProjectName, name))
	if errors.Is(err, docstore.ErrNoDocuments) {
		return model.Project{}, &custom_errors.NotFoundError{Resource: "project", Key: name}
	}
	if err != nil {
		return model.Project{}, custom_errors.StoreFailure("delete project", err)
	}

	r.logger.Info("Project deleted", "project", name)
	return decodeProject(removed)
}

// HasProject reports whether a project called name exists.
func (r *Registry) HasProject(ctx context.Context, name string) (bool, error) {
	docs, err := r.store.Find(ctx, Collection, docstore.Eq(model.FieldProjectName, name))
	if err != nil {
		return false, custom_errors.StoreFailure("find project", err)
	}
	return len(docs) > 0, nil
}

func decodeProject(doc docstore.Document) (model.Project, error) {
	p, err := model.ProjectFromDocument(doc)
	if err != nil {
		return model.Project{}, custom_errors.StoreFailure("decode project", err)
	}
	return p, nil
}
