// internal/model/document.go
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/LuminolMC/StarFall/internal/docstore"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
)

// Document field names used in filters.
const (
	FieldProjectName = "project_name"
	FieldBranchName  = "branch_name"
	FieldReleaseTag  = "release_tag"
)

// ToDocument maps a tagged entity to its document representation.
func ToDocument(v any) (docstore.Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc docstore.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromDocument maps a stored document back onto out. The store id and any
// unknown fields are ignored.
func FromDocument(doc docstore.Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// CommitToDocument normalises a nil author list to an empty one so the stored
// form always carries an array.
func CommitToDocument(c CommitData) (docstore.Document, error) {
	return ToDocument(c.normalized())
}

// CommitFromDocument decodes a commit document.
func CommitFromDocument(doc docstore.Document) (CommitData, error) {
	var c CommitData
	if err := FromDocument(doc, &c); err != nil {
		return CommitData{}, err
	}
	return c.normalized(), nil
}

// ProjectToDocument encodes a project, always with a branch array.
func ProjectToDocument(p Project) (docstore.Document, error) {
	if p.Branches == nil {
		p.Branches = []BranchInfo{}
	}
	return ToDocument(p)
}

// ProjectFromDocument decodes a project document.
func ProjectFromDocument(doc docstore.Document) (Project, error) {
	var p Project
	if err := FromDocument(doc, &p); err != nil {
		return Project{}, err
	}
	if p.Branches == nil {
		p.Branches = []BranchInfo{}
	}
	return p, nil
}

// DownloadToDocument encodes a download and its commit snapshot.
func DownloadToDocument(d DownloadInfo) (docstore.Document, error) {
	commits := make([]CommitData, len(d.Commits))
	for i, c := range d.Commits {
		commits[i] = c.normalized()
	}
	d.Commits = commits
	return ToDocument(d)
}

// DownloadFromDocument decodes a download document.
func DownloadFromDocument(doc docstore.Document) (DownloadInfo, error) {
	var d DownloadInfo
	if err := FromDocument(doc, &d); err != nil {
		return DownloadInfo{}, err
	}
	if d.Commits == nil {
		d.Commits = []CommitData{}
	}
	for i, c := range d.Commits {
		d.Commits[i] = c.normalized()
	}
	return d, nil
}

// ParseCommits decodes a caller-supplied JSON array of commit objects. Any
// syntax or shape error is reported as malformed input.
func ParseCommits(raw string) ([]CommitData, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, custom_errors.Malformed("commit array", nil)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	var objects []json.RawMessage
	if err := dec.Decode(&objects); err != nil {
		return nil, custom_errors.Malformed("commit array", err)
	}
	if objects == nil {
		return nil, custom_errors.Malformed("commit array", errNotArray)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, custom_errors.Malformed("commit array", errTrailingData)
	}

	commits := make([]CommitData, 0, len(objects))
	for _, obj := range objects {
		if len(obj) == 0 || obj[0] != '{' {
			return nil, custom_errors.Malformed("commit array", errNotObject)
		}
		var c CommitData
		if err := json.Unmarshal(obj, &c); err != nil {
			return nil, custom_errors.Malformed("commit array", err)
		}
		commits = append(commits, c.normalized())
	}
	return commits, nil
}

var (
	errNotArray     = errors.New("expected a JSON array")
	errTrailingData = errors.New("unexpected data after the array")
	errNotObject    = errors.New("array element is not an object")
)

func (c CommitData) normalized() CommitData {
	if c.Authors == nil {
		c.Authors = []string{}
	}
	return c
}
