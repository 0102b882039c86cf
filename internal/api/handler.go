// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LuminolMC/StarFall/internal/access"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
)

// Projects is the project registry as seen by the transport.
type Projects interface {
	CreateProject(ctx context.Context, caller *access.Identity, name string) (string, model.Project, error)
	GetProject(ctx context.Context, name string) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	UpdateProject(ctx context.Context, caller *access.Identity, name string, state model.Project) (model.Project, error)
	DeleteProject(ctx context.Context, caller *access.Identity, name string) (model.Project, error)
}

// Commits is the commit ledger as seen by the transport.
type Commits interface {
	AppendCommits(ctx context.Context, caller *access.Identity, project string, commits []model.CommitData) (int, error)
	GetCommits(ctx context.Context, project, branch string) ([]model.CommitData, error)
	DeleteBranchCommits(ctx context.Context, caller *access.Identity, project, branch string) (model.CommitData, error)
	PurgeBranchCommits(ctx context.Context, caller *access.Identity, project, branch string) (int64, error)
}

// Downloads is the download catalog as seen by the transport.
type Downloads interface {
	AddDownload(ctx context.Context, caller *access.Identity, info model.DownloadInfo) error
	GetDownload(ctx context.Context, tag string) (model.DownloadInfo, error)
	ListDownloadsForBranch(ctx context.Context, branch string) ([]model.DownloadInfo, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	projects  Projects
	commits   Commits
	downloads Downloads
	logger    *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(projects Projects, commits Commits, downloads Downloads, auth *access.BearerAuthenticator, logger *slog.Logger) http.Handler {
	h := &Handler{
		projects:  projects,
		commits:   commits,
		downloads: downloads,
		logger:    logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(bearerIdentity(auth))

	r.Get("/", h.greet)
	r.Get("/health", h.healthCheck)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.getProjects)
		r.Post("/create", h.createProject)
		r.Put("/update", h.updateProject)
		r.Delete("/delete", h.deleteProject)
		r.Post("/append_commits", h.appendCommits)
		r.Get("/get_commits", h.getCommits)
		r.Delete("/commits", h.deleteCommits)
	})

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.listDownloads)
		r.Get("/get", h.getDownload)
		r.Get("/create", h.createDownload)
		r.Post("/create", h.createDownload)
	})

	return r
}

func (h *Handler) greet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello!"))
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes the response for an error returned by a core component.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	respondWithError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, custom_errors.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, custom_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, custom_errors.ErrNotFound), errors.Is(err, custom_errors.ErrUnknownProject):
		return http.StatusNotFound
	case errors.Is(err, custom_errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, custom_errors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, custom_errors.ErrCancelled), errors.Is(err, custom_errors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requiredParam reads a query or form parameter and writes a 400 if it is
// missing.
func requiredParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.FormValue(name)
	if v == "" {
		respondWithError(w, http.StatusBadRequest, "Missing '"+name+"' parameter.")
		return "", false
	}
	return v, true
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
