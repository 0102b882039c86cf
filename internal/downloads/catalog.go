// internal/downloads/catalog.go
package downloads

import (
	"context"
	"log/slog"

	"github.com/LuminolMC/StarFall/internal/access"
	"github.com/LuminolMC/StarFall/internal/docstore"
	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
	"github.com/LuminolMC/StarFall/internal/model"
)

// Collection holds one document per released artifact.
const Collection = "downloads"

// Catalog stores released artifacts. Release tags are lookup keys but are not
// unique; lookups resolve to the earliest stored artifact with the tag.
type Catalog struct {
	store  docstore.Store
	policy access.Policy
	logger *slog.Logger
}

// NewCatalog ensures the downloads collection exists and returns a Catalog.
func NewCatalog(ctx context.Context, store docstore.Store, policy access.Policy, logger *slog.Logger) (*Catalog, error) {
	if err := store.EnsureCollection(ctx, Collection); err != nil {
		return nil, custom_errors.StoreFailure("ensure downloads collection", err)
	}
	return &Catalog{
		store:  store,
		policy: policy,
		logger: logger.With("component", "downloads"),
	}, nil
}

// AddDownload stores info as-is. The branch is not checked against any
// project.
func (c *Catalog) AddDownload(ctx context.Context, caller *access.Identity, info model.DownloadInfo) error {
	if err := c.policy.Authorize(caller); err != nil {
		return err
	}
	doc, err := model.DownloadToDocument(info)
	if err != nil {
		return custom_errors.Malformed("download", err)
	}
	id, err := c.store.InsertOne(ctx, Collection, doc)
	if err != nil {
		return custom_errors.StoreFailure("insert download", err)
	}
	c.logger.Info("Download added", "release_tag", info.ReleaseTag, "branch", info.BranchName, "id", id)
	return nil
}

// GetDownload returns the artifact released under tag.
func (c *Catalog) GetDownload(ctx context.Context, tag string) (model.DownloadInfo, error) {
	docs, err := c.store.Find(ctx, Collection, docstore.Eq(model.FieldReleaseTag, tag))
	if err != nil {
		return model.DownloadInfo{}, custom_errors.StoreFailure("find download", err)
	}
	if len(docs) == 0 {
		return model.DownloadInfo{}, &custom_errors.NotFoundError{Resource: "download", Key: tag}
	}
	return decodeDownload(docs[0])
}

// ListDownloadsForBranch returns every artifact of branch in insertion order.
func (c *Catalog) ListDownloadsForBranch(ctx context.Context, branch string) ([]model.DownloadInfo, error) {
	docs, err := c.store.Find(ctx, Collection, docstore.Eq(model.FieldBranchName, branch))
	if err != nil {
		return nil, custom_errors.StoreFailure("list downloads", err)
	}
	out := make([]model.DownloadInfo, 0, len(docs))
	for _, doc := range docs {
		d, err := decodeDownload(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeDownload(doc docstore.Document) (model.DownloadInfo, error) {
	d, err := model.DownloadFromDocument(doc)
	if err != nil {
		return model.DownloadInfo{}, custom_errors.StoreFailure("decode download", err)
	}
	return d, nil
}
