// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github-geo-collector/internal/config"
	custom_errors "github-geo-collector/internal/errors"
	"github-geo-collector/internal/model"
	"github-geo-collector/internal/retry"
	"github-geo-collector/internal/tokenpool"
)

// Page is one page of a repository's default-branch history.
type Page struct {
	Commits   []model.Commit
	EndCursor string
	HasNext   bool
}

// HistorySource is what the collector needs from GitHub.
type HistorySource interface {
	CommitHistory(ctx context.Context, repo model.Repo, since, until time.Time, cursor string) (Page, error)
	UserLocation(ctx context.Context, login string) (string, error)
}

type api struct {
	gql  *githubv4.Client
	rest *github.Client
}

// Client talks to the GitHub GraphQL and REST APIs, rotating credentials through a token pool.
type Client struct {
	pool     *tokenpool.Pool
	apis     map[string]*api
	policy   retry.Policy
	cooldown time.Duration
	pageSize int
	logger   logrus.FieldLogger
	now      func() time.Time
}

var _ HistorySource = (*Client)(nil)

// NewClient creates a Client with one authenticated API pair per credential and one anonymous pair.
func NewClient(cfg config.GitHub, pool *tokenpool.Pool, logger logrus.FieldLogger) (*Client, error) {
	restURL, err := url.Parse(cfg.RESTURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GITHUB_REST_URL: %w", err)
	}
	if !strings.HasSuffix(restURL.Path, "/") {
		restURL.Path += "/"
	}

	c := &Client{
		pool: pool,
		apis: make(map[string]*api),
		policy: retry.Policy{
			MaxAttempts:     cfg.MaxRetries,
			InitialInterval: cfg.InitialBackoff,
			MaxInterval:     cfg.MaxBackoff,
			Multiplier:      2,
		},
		cooldown: cfg.RateLimitCooldown,
		pageSize: cfg.PageSize,
		logger:   logger,
		now:      time.Now,
	}

	base := &statusTransport{base: http.DefaultTransport, now: time.Now}
	newAPI := func(token string) *api {
		var rt http.RoundTripper = base
		if token != "" {
			rt = &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
				Base:   base,
			}
		}
		hc := &http.Client{Transport: rt, Timeout: cfg.RequestTimeout}
		rest := github.NewClient(hc)
		rest.BaseURL = restURL
		return &api{gql: githubv4.NewEnterpriseClient(cfg.GraphQLURL, hc), rest: rest}
	}

	c.apis[""] = newAPI("")
	for _, t := range cfg.Tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := c.apis[t]; !ok {
			c.apis[t] = newAPI(t)
		}
	}
	return c, nil
}

type commitNode struct {
	Oid             githubv4.GitObjectID
	MessageHeadline githubv4.String
	CommittedDate   githubv4.DateTime
	Author          *struct {
		Name  githubv4.String
		Email githubv4.String
		User  *struct {
			Login githubv4.String
		}
	}
}

type historyQuery struct {
	Repository struct {
		DefaultBranchRef *struct {
			Target struct {
				Commit struct {
					History struct {
						PageInfo struct {
							HasNextPage githubv4.Boolean
							EndCursor   githubv4.String
						}
						Nodes []commitNode
					} `graphql:"history(since: $since, until: $until, first: $first, after: $cursor)"`
				} `graphql:"... on Commit"`
			}
		}
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// CommitHistory fetches one page of commits committed in [since, until).
// A repository without a default branch yields an empty final page.
func (c *Client) CommitHistory(ctx context.Context, repo model.Repo, since, until time.Time, cursor string) (Page, error) {
	vars := map[string]any{
		"owner":  githubv4.String(repo.Owner),
		"name":   githubv4.String(repo.Name),
		"since":  githubv4.GitTimestamp{Time: since},
		"until":  githubv4.GitTimestamp{Time: until},
		"first":  githubv4.Int(c.pageSize),
		"cursor": (*githubv4.String)(nil),
	}
	if cursor != "" {
		vars["cursor"] = githubv4.NewString(githubv4.String(cursor))
	}

	var q historyQuery
	err := c.do(ctx, &repo, func(ctx context.Context, a *api) error {
		q = historyQuery{}
		return a.gql.Query(ctx, &q, vars)
	})
	if err != nil {
		return Page{}, err
	}

	ref := q.Repository.DefaultBranchRef
	if ref == nil {
		return Page{}, nil
	}
	history := ref.Target.Commit.History

	collectedAt := c.now().UTC()
	page := Page{
		Commits:   make([]model.Commit, 0, len(history.Nodes)),
		EndCursor: string(history.PageInfo.EndCursor),
		HasNext:   bool(history.PageInfo.HasNextPage),
	}
	for _, n := range history.Nodes {
		page.Commits = append(page.Commits, toInternalCommit(repo, n, collectedAt))
	}
	return page, nil
}

// UserLocation returns the free-text location on a user's profile, empty when unset or unknown.
func (c *Client) UserLocation(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", nil
	}
	var loc string
	err := c.do(ctx, nil, func(ctx context.Context, a *api) error {
		user, _, err := a.rest.Users.Get(ctx, login)
		if err != nil {
			return err
		}
		loc = strings.TrimSpace(user.GetLocation())
		return nil
	})
	if errors.Is(err, custom_errors.ErrNotFound) {
		return "", nil
	}
	return loc, err
}

// do runs call under the retry policy, acquiring a credential for every attempt.
func (c *Client) do(ctx context.Context, repo *model.Repo, call func(context.Context, *api) error) error {
	return retry.Do(ctx, c.policy, c.classify, func(ctx context.Context) error {
		token, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		a, ok := c.apis[token]
		if !ok {
			a = c.apis[""]
		}

		err = call(ctx, a)
		if err == nil {
			c.pool.Reset(token)
			return nil
		}

		err = c.translate(token, repo, err)
		var rl *custom_errors.RateLimitError
		if errors.As(err, &rl) {
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = c.cooldown
			}
			c.pool.Penalize(token, wait)
			c.logger.WithFields(logrus.Fields{
				"token":    custom_errors.Redact(token),
				"cooldown": wait.String(),
			}).Warn("Credential rate limited, parking it")
		} else {
			c.logger.WithError(err).Debug("GitHub request failed")
		}
		return err
	})
}

// translate maps transport and GraphQL errors onto the typed errors used by classify.
func (c *Client) translate(token string, repo *model.Repo, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var status *custom_errors.StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusTooManyRequests || (status.Code == http.StatusForbidden && isRateLimit(status)):
			return &custom_errors.RateLimitError{Token: token, RetryAfter: status.RetryAfter, Err: err}
		case status.Code == http.StatusUnauthorized || status.Code == http.StatusForbidden:
			return &custom_errors.AuthError{Status: status.Code, Err: err}
		case status.Code == http.StatusNotFound:
			if repo != nil {
				return &custom_errors.RepositoryNotFoundError{Owner: repo.Owner, Name: repo.Name}
			}
			return fmt.Errorf("%w: %v", custom_errors.ErrNotFound, err)
		}
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return &custom_errors.RateLimitError{Token: token, Err: err}
	case strings.Contains(msg, "could not resolve to a repository") && repo != nil:
		return &custom_errors.RepositoryNotFoundError{Owner: repo.Owner, Name: repo.Name}
	case strings.Contains(msg, "bad credentials"):
		return &custom_errors.AuthError{Status: http.StatusUnauthorized, Err: err}
	}
	return err
}

func isRateLimit(s *custom_errors.StatusError) bool {
	return s.RetryAfter > 0 || strings.Contains(strings.ToLower(s.Body), "rate limit")
}

// classify decides how retry.Do treats a translated error.
func (c *Client) classify(err error) retry.Decision {
	var rl *custom_errors.RateLimitError
	var status *custom_errors.StatusError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return retry.Abort
	case custom_errors.IsTerminal(err) || errors.Is(err, custom_errors.ErrNotFound):
		return retry.Abort
	case errors.As(err, &rl):
		// without credentials to rotate, fall back to back-off
		if c.pool.Len() == 0 {
			return retry.Retry
		}
		return retry.Cooldown
	case errors.As(err, &status) && status.Code >= 400 && status.Code < 500:
		return retry.Abort
	}
	return retry.Retry
}

// toInternalCommit translates a GraphQL commit node to our internal model.Commit.
func toInternalCommit(repo model.Repo, n commitNode, collectedAt time.Time) model.Commit {
	c := model.Commit{
		Repo:        repo.FullName(),
		SHA:         string(n.Oid),
		Message:     string(n.MessageHeadline),
		Timestamp:   n.CommittedDate.Time.UTC(),
		CollectedAt: collectedAt,
	}
	if n.Author != nil {
		c.AuthorName = string(n.Author.Name)
		c.AuthorEmail = string(n.Author.Email)
		if n.Author.User != nil {
			c.AuthorLogin = string(n.Author.User.Login)
		}
	}
	return c
}
