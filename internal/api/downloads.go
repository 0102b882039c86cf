// internal/api/downloads.go
package api

import (
	"net/http"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/model"
)

// GET /downloads?branch_name=
func (h *Handler) listDownloads(w http.ResponseWriter, r *http.Request) {
	branch, ok := requiredParam(w, r, "branch_name")
	if !ok {
		return
	}
	downloads, err := h.downloads.ListDownloadsForBranch(r.Context(), branch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, downloads)
}

// GET /downloads/get?release_tag=
func (h *Handler) getDownload(w http.ResponseWriter, r *http.Request) {
	tag, ok := requiredParam(w, r, "release_tag")
	if !ok {
		return
	}
	info, err := h.downloads.GetDownload(r.Context(), tag)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

// createDownload records a released artifact of a branch.
// GET|POST /downloads/create?branch_name=&release_tag=&mc_version=&download_link=&commits=
func (h *Handler) createDownload(w http.ResponseWriter, r *http.Request) {
	var info model.DownloadInfo
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"branch_name", &info.BranchName},
		{"release_tag", &info.ReleaseTag},
		{"mc_version", &info.MCVersion},
		{"download_link", &info.DownloadLink},
	} {
		v, ok := requiredParam(w, r, p.name)
		if !ok {
			return
		}
		*p.dst = v
	}
	raw, ok := requiredParam(w, r, "commits")
	if !ok {
		return
	}

	commits, err := model.ParseCommits(raw)
	if err != nil {
		h.logger.Error("Failed to parse commit data", "release_tag", info.ReleaseTag, "remote_addr", r.RemoteAddr, "error", err)
		h.fail(w, r, err)
		return
	}
	info.Commits = commits

	if err := h.downloads.AddDownload(r.Context(), access.FromContext(r.Context()), info); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}
