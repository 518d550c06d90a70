// Package githubstore implements the content-store contract over the
// GitHub contents API. The store document is one file in a repository;
// its blob SHA is the revision identifier and the PUT precondition, so a
// concurrent writer surfaces as a 409 instead of a lost update.
package githubstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

const (
	apiBase        = "https://api.github.com"
	requestTimeout = 25 * time.Second
)

// Config holds the repository coordinates for the store document.
type Config struct {
	Repo   string // "owner/repo"
	Branch string
	Path   string // file path within the repository
	Token  string
}

// Client talks to the GitHub contents API for a single document path.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        Config
}

// New creates a contents-API client.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    apiBase,
		cfg:        cfg,
	}
}

// contentsResponse is the subset of the contents-API payload we read.
type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (c *Client) contentsURL() string {
	return fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		c.baseURL, c.cfg.Repo, c.cfg.Path, url.QueryEscape(c.cfg.Branch))
}

// Get fetches the document and its blob SHA.
func (c *Client) Get(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("githubstore: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("githubstore: get %s: %w", c.cfg.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", store.ErrDocumentNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("githubstore: get %s: status %d", c.cfg.Path, resp.StatusCode)
	}

	var body contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("githubstore: decode contents: %w", err)
	}

	// The API wraps the payload in base64 with embedded newlines.
	data, err := base64.StdEncoding.DecodeString(stripNewlines(body.Content))
	if err != nil {
		return nil, "", fmt.Errorf("githubstore: decode payload: %w", err)
	}
	return data, body.SHA, nil
}

// Put writes a new revision with sha as the precondition. The write is
// retried with backoff on throttling and transient upstream failures;
// a SHA mismatch maps to ErrPreconditionFailed without retry.
func (c *Client) Put(ctx context.Context, data []byte, sha string, message string) (string, error) {
	payload := putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  c.cfg.Branch,
		SHA:     sha,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("githubstore: encode put: %w", err)
	}

	var newSHA string
	err = retryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, c.cfg.Repo, c.cfg.Path),
			bytes.NewReader(body))
		if err != nil {
			return &permanentError{err: fmt.Errorf("githubstore: build request: %w", err)}
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("githubstore: put %s: %w", c.cfg.Path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			var out putResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return &permanentError{err: fmt.Errorf("githubstore: decode put response: %w", err)}
			}
			newSHA = out.Content.SHA
			return nil

		case resp.StatusCode == http.StatusConflict,
			resp.StatusCode == http.StatusUnprocessableEntity:
			// SHA mismatch: the caller owns the merge-retry policy.
			_, _ = io.Copy(io.Discard, resp.Body)
			return &permanentError{err: store.ErrPreconditionFailed}

		case resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body)
			err := fmt.Errorf("githubstore: put %s: status %d", c.cfg.Path, resp.StatusCode)
			if delay := parseRetryAfter(resp.Header); delay > 0 {
				return &retryAfterError{err: err, delay: delay}
			}
			return err

		default:
			_, _ = io.Copy(io.Discard, resp.Body)
			return &permanentError{err: fmt.Errorf("githubstore: put %s: status %d", c.cfg.Path, resp.StatusCode)}
		}
	})
	if err != nil {
		return "", err
	}
	return newSHA, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// Compile-time check against the content-store contract.
var _ store.ContentStore = (*Client)(nil)
