// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/LuminolMC/StarFall/internal/model"
)

const (
	// maxRetries is the total number of attempts made for one API call.
	maxRetries = 3

	defaultRetryInterval = 500 * time.Millisecond
)

// Client is a wrapper around the go-github client.
type Client struct {
	gh            *github.Client
	logger        *slog.Logger
	retryInterval time.Duration
}

// NewClient creates and configures a new Client instance.
// A non-empty token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		gh:            github.NewClient(hc),
		logger:        logger.With("component", "github"),
		retryInterval: defaultRetryInterval,
	}
}

// SetBaseURL points the client at another API root, such as a GitHub
// Enterprise server.
func (c *Client) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	c.gh.BaseURL = u
	return nil
}

// GetBranchCommits fetches the commits of a branch made at or after since and
// returns them oldest first. It handles API pagination transparently. A zero
// since fetches the whole history.
func (c *Client) GetBranchCommits(ctx context.Context, owner, repo, branch string, since time.Time) ([]model.CommitData, error) {
	var newestFirst []model.CommitData

	opts := &github.CommitsListOptions{
		SHA:   branch,
		Since: since,
		ListOptions: github.ListOptions{
			PerPage: 100, // Max per page
		},
	}

	for {
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", repo, "branch", branch, "page", opts.Page)

		var (
			commits []*github.RepositoryCommit
			resp    *github.Response
		)
		err := c.withRetry(ctx, func() (*github.Response, error) {
			var err error
			commits, resp, err = c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, commit := range commits {
			newestFirst = append(newestFirst, toCommitData(commit, branch))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	out := make([]model.CommitData, len(newestFirst))
	for i, commit := range newestFirst {
		out[len(newestFirst)-1-i] = commit
	}
	return out, nil
}

// withRetry runs call up to maxRetries times. Server errors are retried with
// exponential backoff; rate limit errors wait for the limit to reset before
// the next attempt. Anything else is returned immediately.
func (c *Client) withRetry(ctx context.Context, call func() (*github.Response, error)) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries-1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		resp, err := call()
		if err == nil {
			return nil
		}

		var rateErr *github.RateLimitError
		var abuseErr *github.AbuseRateLimitError
		switch {
		case errors.As(err, &rateErr):
			wait := time.Until(rateErr.Rate.Reset.Time)
			c.logger.Warn("GitHub rate limit hit, waiting for reset", "attempt", attempt, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return backoff.Permanent(err)
			}
			return err
		case errors.As(err, &abuseErr):
			wait := abuseErr.GetRetryAfter()
			c.logger.Warn("GitHub secondary rate limit hit, backing off", "attempt", attempt, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return backoff.Permanent(err)
			}
			return err
		case resp != nil && resp.StatusCode >= http.StatusInternalServerError:
			c.logger.Warn("GitHub server error, retrying", "attempt", attempt, "status", resp.StatusCode)
			return err
		default:
			return backoff.Permanent(err)
		}
	}, b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toCommitData translates a github.RepositoryCommit object to a commit record
// of branch. The committer is listed as a second author when it differs from
// the author.
func toCommitData(c *github.RepositoryCommit, branch string) model.CommitData {
	commit := c.GetCommit()
	authors := []string{}
	if name := commit.GetAuthor().GetName(); name != "" {
		authors = append(authors, name)
	}
	if name := commit.GetCommitter().GetName(); name != "" && (len(authors) == 0 || authors[0] != name) {
		authors = append(authors, name)
	}

	when := commit.GetAuthor().GetDate().Time
	if when.IsZero() {
		when = commit.GetCommitter().GetDate().Time
	}

	return model.CommitData{
		Message:    commit.GetMessage(),
		Authors:    authors,
		CommitHash: c.GetSHA(),
		Timestamp:  when.Unix(),
		BranchName: branch,
	}
}
