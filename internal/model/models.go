// internal/model/models.go
package model

// BranchInfo is a branch declared by a project and the Minecraft version it
// targets. It only exists nested inside a Project.
type BranchInfo struct {
	Name      string `json:"branch_name"`
	MCVersion string `json:"mc_versions"`
}

// Project is a tracked software project and its declared branches.
type Project struct {
	Name     string       `json:"project_name"`
	Branches []BranchInfo `json:"branches"`
}

// HasBranch reports whether the project declares a branch called name.
func (p Project) HasBranch(name string) bool {
	for _, b := range p.Branches {
		if b.Name == name {
			return true
		}
	}
	return false
}

// CommitData is one immutable commit record of a branch.
type CommitData struct {
	Message    string   `json:"commit_message"`
	Authors    []string `json:"authors"`
	CommitHash string   `json:"commit_hash"`
	Timestamp  int64    `json:"timestamp"`
	BranchName string   `json:"branch_name"`
}

// DownloadInfo is a released artifact of a branch. Commits is a snapshot taken
// at release time, not a reference into the commit ledger, so it stays valid
// when branch history is later pruned.
type DownloadInfo struct {
	ReleaseTag   string       `json:"release_tag"`
	BranchName   string       `json:"branch_name"`
	MCVersion    string       `json:"mc_version"`
	Commits      []CommitData `json:"commits"`
	DownloadLink string       `json:"download_link"`
}

// Commits is the wire envelope for a commit listing.
type Commits struct {
	Data []CommitData `json:"data"`
}
