/*
Package gitee stores the document as a file in a git repository through the
Gitee v5 contents API.

PROTOCOL:
  GET  /repos/{owner}/{repo}/contents/{path}  -> {"content": base64, "sha": ...}
  POST same URL {"content", "message"}          create (token "")
  PUT  same URL {"content", "sha", "message"}   update; sha is the CAS token

  404 on GET means the file does not exist. The blob SHA of the current file
  is the token; the server refuses an update carrying an outdated SHA, which
  surfaces as *docstore.ConflictError.
*/
package gitee

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

const DefaultBaseURL = "https://gitee.com/api/v5"

// Config locates the file. AccessToken is injected from the environment.
type Config struct {
	BaseURL     string
	Owner       string
	Repo        string
	Path        string
	Branch      string
	AccessToken string
}

type Store struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) (*Store, error) {
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Path == "" {
		return nil, fmt.Errorf("gitee: owner, repo and path are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{cfg: cfg, client: client}, nil
}

type fileResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type writeRequest struct {
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Message string `json:"message"`
	Branch  string `json:"branch,omitempty"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// =============================================================================
// STORE
// =============================================================================

func (s *Store) Read(ctx context.Context) (*ledger.Document, docstore.Token, error) {
	u := s.contentsURL()
	if s.cfg.Branch != "" {
		u += "?ref=" + url.QueryEscape(s.cfg.Branch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", docstore.Transport("gitee read", err)
	}

	resp, err := s.do(req)
	if err != nil {
		return nil, "", docstore.Transport("gitee read", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", docstore.Transport("gitee read", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", docstore.Transport("gitee read", statusError(resp.StatusCode, body))
	}

	// A missing path inside an existing repo answers with an empty listing.
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, "", nil
	}

	var file fileResponse
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, "", docstore.Transport("gitee read", err)
	}
	if file.SHA == "" {
		return nil, "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return nil, "", docstore.Transport("gitee read", fmt.Errorf("decode content: %w", err))
	}
	doc, err := ledger.Decode(raw)
	if err != nil {
		return nil, "", docstore.Transport("gitee read", err)
	}
	return &doc, docstore.Token(file.SHA), nil
}

func (s *Store) Write(ctx context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	payload, err := ledger.Encode(doc)
	if err != nil {
		return "", err
	}

	body := writeRequest{
		Content: base64.StdEncoding.EncodeToString(payload),
		SHA:     string(token),
		Branch:  s.cfg.Branch,
	}
	method := http.MethodPut
	if token == "" {
		method = http.MethodPost
		body.Message = "Create " + s.cfg.Path
	} else {
		body.Message = "Update " + s.cfg.Path
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gitee write: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.contentsURL(), bytes.NewReader(data))
	if err != nil {
		return "", docstore.Transport("gitee write", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", docstore.Transport("gitee write", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", docstore.Transport("gitee write", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return "", &docstore.ConflictError{Expected: token}
	default:
		return "", docstore.Transport("gitee write", statusError(resp.StatusCode, respBody))
	}

	var out writeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", docstore.Transport("gitee write", err)
	}
	if out.Content.SHA == "" {
		return "", docstore.Transport("gitee write", fmt.Errorf("response carries no sha"))
	}
	return docstore.Token(out.Content.SHA), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) contentsURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.cfg.BaseURL,
		url.PathEscape(s.cfg.Owner), url.PathEscape(s.cfg.Repo), escapePath(s.cfg.Path))
}

func (s *Store) do(req *http.Request) (*http.Response, error) {
	if s.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "token "+s.cfg.AccessToken)
	}
	req.Header.Set("Accept", "application/json")
	return s.client.Do(req)
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("status %d: %s", code, msg)
}
