package review

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// ChangedFile is one file touched by a pull request, with its unified diff
// when GitHub provides one.
type ChangedFile struct {
	Path      string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// Fetcher pulls changed-file lists from the GitHub API so the review prompt
// can include actual code changes.
type Fetcher struct {
	client   *gh.Client
	maxFiles int
}

// NewFetcher builds a Fetcher authenticated with the given token. An empty
// token uses anonymous access with its lower rate limits.
func NewFetcher(ctx context.Context, token string, maxFiles int) *Fetcher {
	httpClient := oauth2.NewClient(ctx, nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	if maxFiles <= 0 {
		maxFiles = 50
	}
	return &Fetcher{client: gh.NewClient(httpClient), maxFiles: maxFiles}
}

// ChangedFiles lists the files changed by a pull request, capped at the
// configured maximum. repo is the "owner/name" full name.
func (f *Fetcher) ChangedFiles(ctx context.Context, repo string, number int) ([]ChangedFile, error) {
	owner, name, err := splitFullName(repo)
	if err != nil {
		return nil, err
	}

	var out []ChangedFile
	opts := &gh.ListOptions{PerPage: 100}
	for {
		files, resp, err := f.client.PullRequests.ListFiles(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list pr files: %w", err)
		}
		for _, file := range files {
			out = append(out, ChangedFile{
				Path:      file.GetFilename(),
				Status:    file.GetStatus(),
				Additions: file.GetAdditions(),
				Deletions: file.GetDeletions(),
				Patch:     file.GetPatch(),
			})
			if len(out) >= f.maxFiles {
				return out, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func splitFullName(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository full name: %q", repo)
	}
	return owner, name, nil
}
