// internal/api/projects.go
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/model"
)

// getProjects lists project names, or returns one project when project_name
// is given.
// GET /projects?project_name=
func (h *Handler) getProjects(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("project_name")
	if name == "" {
		projects, err := h.projects.ListProjects(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		names := make([]string, 0, len(projects))
		for _, p := range projects {
			names = append(names, p.Name)
		}
		respondWithJSON(w, http.StatusOK, names)
		return
	}

	project, err := h.projects.GetProject(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, project)
}

// POST /projects/create?project_name=
func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	name, ok := requiredParam(w, r, "project_name")
	if !ok {
		return
	}
	h.logger.Info("Creating project", "project", name, "remote_addr", r.RemoteAddr)

	_, project, err := h.projects.CreateProject(r.Context(), access.FromContext(r.Context()), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, project)
}

// updateProject replaces a project with the JSON body and returns the
// previous state.
// PUT /projects/update?project_name=
func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	name, ok := requiredParam(w, r, "project_name")
	if !ok {
		return
	}
	var state model.Project
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		h.logger.Warn("Failed to parse project body", "project", name, "remote_addr", r.RemoteAddr, "error", err)
		respondWithError(w, http.StatusBadRequest, "Invalid project body.")
		return
	}
	if state.Branches == nil {
		state.Branches = []model.BranchInfo{}
	}

	previous, err := h.projects.UpdateProject(r.Context(), access.FromContext(r.Context()), name, state)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, previous)
}

// DELETE /projects/delete?project_name=
func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	name, ok := requiredParam(w, r, "project_name")
	if !ok {
		return
	}
	removed, err := h.projects.DeleteProject(r.Context(), access.FromContext(r.Context()), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, removed)
}

// POST /projects/append_commits?project_name=&commit_data_json_array=
func (h *Handler) appendCommits(w http.ResponseWriter, r *http.Request) {
	name, ok := requiredParam(w, r, "project_name")
	if !ok {
		return
	}
	raw, ok := requiredParam(w, r, "commit_data_json_array")
	if !ok {
		return
	}
	commits, err := model.ParseCommits(raw)
	if err != nil {
		h.logger.Error("Failed to parse commit data", "project", name, "remote_addr", r.RemoteAddr, "error", err)
		h.fail(w, r, err)
		return
	}

	n, err := h.commits.AppendCommits(r.Context(), access.FromContext(r.Context()), name, commits)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"appended": n})
}

// GET /projects/get_commits?project_name=&branch=
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	name, ok := requiredParam(w, r, "project_name")
	if !ok {
		return
	}
	branch, ok := requiredParam(w, r, "branch")
	if !ok {
		return
	}
	commits, err := h.commits.GetCommits(r.Context(), name, branch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, model.Commits{Data: commits})
}

// deleteCommits removes one commit of the branch, or all of them with all=true.
// DELETE /projects/commits?project_name=&branch=&all=
func (h *Handler) deleteCommits(w http.ResponseWriter, r *http.Request) {
	name, ok := requiredParam(w, r, "project_name")
	if !ok {
		return
	}
	branch, ok := requiredParam(w, r, "branch")
	if !ok {
		return
	}
	all := false
	if v := r.FormValue("all"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'all' parameter. Must be a boolean.")
			return
		}
		all = parsed
	}
	caller := access.FromContext(r.Context())

	if all {
		n, err := h.commits.PurgeBranchCommits(r.Context(), caller, name, branch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]int64{"deleted": n})
		return
	}

	removed, err := h.commits.DeleteBranchCommits(r.Context(), caller, name, branch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, removed)
}
