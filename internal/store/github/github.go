// Package github implements the commit-versioned repository adapter on top of
// the GitHub contents API. Every write becomes a commit on the configured branch
// and the file's blob SHA is the version token.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"bulletin/internal/store"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 15 * time.Second
	apiVersion     = "2022-11-28"

	// contentsListLimit is the most entries the contents API returns for a
	// directory; a listing that reaches it is redone through the git trees API.
	contentsListLimit = 1000
)

// Config identifies the repository and credential.
type Config struct {
	BaseURL    string
	Owner      string
	Repo       string
	Branch     string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is the commit-versioned adapter.
type Client struct {
	baseURL string
	owner   string
	repo    string
	branch  string
	token   string
	http    *http.Client
}

// APIError is a non-retryable response the adapter does not classify further.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api status %d: %s", e.Status, e.Message)
}

// New validates cfg and returns a client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Repo) == "" {
		return nil, errors.New("github owner and repo are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  branch,
		token:   cfg.Token,
		http:    hc,
	}, nil
}

func (c *Client) Capabilities() store.Capabilities {
	return store.Capabilities{Backend: "github", CAS: store.CASNative}
}

type contentFile struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) contentsURL(p string) string {
	u := fmt.Sprintf("%s/repos/%s/%s/contents", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo))
	if p != "" {
		segs := strings.Split(p, "/")
		for i, s := range segs {
			segs[i] = url.PathEscape(s)
		}
		u += "/" + strings.Join(segs, "/")
	}
	return u
}

func (c *Client) withRef(u string) string {
	return u + "?ref=" + url.QueryEscape(c.branch)
}

func (c *Client) do(ctx context.Context, op, method, u string, body any) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", "bulletin")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return 0, nil, nil, &store.UnavailableError{Op: op, Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return 0, nil, nil, &store.UnavailableError{Op: op, Err: err}
	}
	return res.StatusCode, res.Header, data, nil
}

// classify maps a non-2xx response onto the store error taxonomy.
func classify(op, path, expected string, status int, header http.Header, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := strings.TrimSpace(eb.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return store.ErrNotFound
	case status == http.StatusConflict:
		return &store.ConflictError{Path: path, Expected: expected}
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "sha"):
		return &store.ConflictError{Path: path, Expected: expected}
	case status == http.StatusTooManyRequests, status >= 500:
		return &store.UnavailableError{Op: op, Err: &APIError{Status: status, Message: msg}}
	case status == http.StatusForbidden && header.Get("X-RateLimit-Remaining") == "0":
		return &store.UnavailableError{Op: op, Err: &APIError{Status: status, Message: msg}}
	default:
		return &APIError{Status: status, Message: msg}
	}
}

func (c *Client) Get(ctx context.Context, path string) (store.Object, error) {
	clean, err := store.CleanPath(path)
	if err != nil {
		return store.Object{}, err
	}
	status, header, body, err := c.do(ctx, "get "+clean, http.MethodGet, c.withRef(c.contentsURL(clean)), nil)
	if err != nil {
		return store.Object{}, err
	}
	if status != http.StatusOK {
		return store.Object{}, classify("get "+clean, clean, "", status, header, body)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		return store.Object{}, fmt.Errorf("%w: %s is a directory", store.ErrNotFound, clean)
	}
	var f contentFile
	if err := json.Unmarshal(body, &f); err != nil {
		return store.Object{}, fmt.Errorf("%w: decode contents response for %s: %v", store.ErrCorruptData, clean, err)
	}
	if f.Type != "" && f.Type != "file" {
		return store.Object{}, fmt.Errorf("%w: %s is a %s", store.ErrNotFound, clean, f.Type)
	}
	content, err := c.decodeContent(ctx, clean, f)
	if err != nil {
		return store.Object{}, err
	}
	return store.Object{Path: clean, Content: content, Token: f.SHA}, nil
}

// decodeContent handles inline base64 content and falls back to the git blobs
// endpoint for files the contents API returns without a body (over 1 MB).
func (c *Client) decodeContent(ctx context.Context, path string, f contentFile) ([]byte, error) {
	if f.Encoding == "base64" && (f.Content != "" || f.Size == 0) {
		return decodeBase64(path, f.Content)
	}
	if f.Size == 0 {
		return []byte{}, nil
	}
	u := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), url.PathEscape(f.SHA))
	status, header, body, err := c.do(ctx, "get blob "+path, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classify("get blob "+path, path, "", status, header, body)
	}
	var blob contentFile
	if err := json.Unmarshal(body, &blob); err != nil {
		return nil, fmt.Errorf("%w: decode blob for %s: %v", store.ErrCorruptData, path, err)
	}
	if blob.Encoding != "base64" {
		return nil, fmt.Errorf("%w: unsupported blob encoding %q for %s", store.ErrCorruptData, blob.Encoding, path)
	}
	return decodeBase64(path, blob.Content)
}

func decodeBase64(path, s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 content for %s: %v", store.ErrCorruptData, path, err)
	}
	return data, nil
}

func (c *Client) Put(ctx context.Context, path string, content []byte, opts store.WriteOptions) (string, error) {
	clean, err := store.CheckWrite(path, opts)
	if err != nil {
		return "", err
	}
	req := putRequest{
		Message: opts.Message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.branch,
		SHA:     opts.Token,
	}
	status, header, body, err := c.do(ctx, "put "+clean, http.MethodPut, c.contentsURL(clean), req)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound && opts.Token != "" {
		return "", &store.ConflictError{Path: clean, Expected: opts.Token}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", classify("put "+clean, clean, opts.Token, status, header, body)
	}
	var res putResponse
	if err := json.Unmarshal(body, &res); err != nil || res.Content.SHA == "" {
		// The commit landed; derive the token locally rather than report failure.
		return store.GitBlobSHA(content), nil
	}
	return res.Content.SHA, nil
}

func (c *Client) Delete(ctx context.Context, path string, opts store.WriteOptions) error {
	clean, err := store.CheckDelete(path, opts)
	if err != nil {
		return err
	}
	req := deleteRequest{Message: opts.Message, SHA: opts.Token, Branch: c.branch}
	status, header, body, err := c.do(ctx, "delete "+clean, http.MethodDelete, c.contentsURL(clean), req)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return classify("delete "+clean, clean, opts.Token, status, header, body)
	}
	return nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	clean, err := store.CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	status, header, body, err := c.do(ctx, "list "+clean, http.MethodGet, c.withRef(c.contentsURL(clean)), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []store.Entry{}, nil
	}
	if status != http.StatusOK {
		return nil, classify("list "+clean, clean, "", status, header, body)
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '[' {
		return []store.Entry{}, nil
	}
	var items []contentFile
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: decode listing for %s: %v", store.ErrCorruptData, clean, err)
	}
	if len(items) >= contentsListLimit {
		return c.listTree(ctx, clean)
	}
	entries := make([]store.Entry, 0, len(items))
	for _, it := range items {
		kind := store.KindFile
		if it.Type == "dir" {
			kind = store.KindDir
		}
		entries = append(entries, store.Entry{Name: it.Name, Path: it.Path, Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// listTree lists a directory through the git trees API, which is not capped
// at contentsListLimit entries.
func (c *Client) listTree(ctx context.Context, dir string) ([]store.Entry, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo), url.PathEscape(c.branch+":"+dir))
	status, header, body, err := c.do(ctx, "list "+dir, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []store.Entry{}, nil
	}
	if status != http.StatusOK {
		return nil, classify("list "+dir, dir, "", status, header, body)
	}
	var tree treeResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("%w: decode tree for %s: %v", store.ErrCorruptData, dir, err)
	}
	if tree.Truncated {
		return nil, fmt.Errorf("list %s: tree listing truncated by the api", dir)
	}
	entries := make([]store.Entry, 0, len(tree.Tree))
	for _, it := range tree.Tree {
		kind := store.KindFile
		if it.Type == "tree" {
			kind = store.KindDir
		}
		full := it.Path
		if dir != "" {
			full = dir + "/" + it.Path
		}
		entries = append(entries, store.Entry{Name: it.Path, Path: full, Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (c *Client) PutBinary(ctx context.Context, path string, data []byte, message string) (string, error) {
	return c.Put(ctx, path, data, store.WriteOptions{Message: message})
}

func (c *Client) GetBinary(ctx context.Context, path string) ([]byte, error) {
	obj, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return obj.Content, nil
}
