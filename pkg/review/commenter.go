package review

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Commenter posts review text back to the pull request as an issue comment.
type Commenter struct {
	client *gh.Client
}

// NewCommenter builds a Commenter; a token is required since anonymous
// clients cannot comment.
func NewCommenter(ctx context.Context, token string) (*Commenter, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required for commenting")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &Commenter{client: gh.NewClient(oauth2.NewClient(ctx, ts))}, nil
}

// PostComment adds body as a comment on the pull request.
func (c *Commenter) PostComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitFullName(repo)
	if err != nil {
		return err
	}
	comment := &gh.IssueComment{Body: gh.String(body)}
	if _, _, err := c.client.Issues.CreateComment(ctx, owner, name, number, comment); err != nil {
		return fmt.Errorf("post pr comment: %w", err)
	}
	return nil
}
