// Package d1 mirrors the notes table into a Cloudflare D1 database over its HTTP query API.
package d1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maloquacious/noto/internal/ids"
	"github.com/maloquacious/noto/internal/store"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Config identifies a D1 database and the token allowed to query it.
type Config struct {
	AccountID  string `yaml:"account_id" env:"ACCOUNT_ID"`
	DatabaseID string `yaml:"database_id" env:"DATABASE_ID"`
	APIToken   string `yaml:"api_token" env:"API_TOKEN"`
}

// Valid reports whether every field is set.
func (c Config) Valid() bool {
	return c.AccountID != "" && c.DatabaseID != "" && c.APIToken != ""
}

// APIError is returned for non-2xx responses and for envelopes with success=false.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status/100 != 2 {
		return fmt.Sprintf("d1 api error: %d - %s", e.Status, strings.Join(e.Messages, ", "))
	}
	return "d1 query failed: " + strings.Join(e.Messages, ", ")
}

// Client implements store.NoteRepository against D1.
type Client struct {
	cfg     Config
	http    *http.Client
	baseURL string
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithClock sets the time source for timestamps written remotely.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a Client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{cfg: cfg, http: httpClient, baseURL: DefaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queryRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type queryResult struct {
	Results json.RawMessage `json:"results"`
	Success bool            `json:"success"`
	Meta    struct {
		Changes   int64   `json:"changes"`
		LastRowID int64   `json:"last_row_id"`
		Duration  float64 `json:"duration"`
	} `json:"meta"`
}

type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Messages []json.RawMessage `json:"messages"`
	Result   []queryResult     `json:"result"`
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/accounts/%s/d1/database/%s/query", c.baseURL, c.cfg.AccountID, c.cfg.DatabaseID)
}

func (c *Client) do(ctx context.Context, sql string, params ...any) (queryResult, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(queryRequest{SQL: sql, Params: params})
	if err != nil {
		return queryResult{}, errors.Wrap(err, "encode d1 query")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return queryResult{}, errors.Wrap(err, "build d1 request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return queryResult{}, errors.Wrap(err, "d1 request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return queryResult{}, errors.Wrap(err, "read d1 response")
	}
	if resp.StatusCode/100 != 2 {
		return queryResult{}, &APIError{Status: resp.StatusCode, Messages: []string{strings.TrimSpace(string(raw))}}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return queryResult{}, errors.Wrap(err, "decode d1 response")
	}
	if !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		for _, e := range env.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
		if len(apiErr.Messages) == 0 {
			apiErr.Messages = []string{"unknown error"}
		}
		return queryResult{}, apiErr
	}
	if len(env.Result) == 0 {
		return queryResult{}, nil
	}
	return env.Result[0], nil
}

type remoteNote struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Starred   int    `json:"starred"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	DeletedAt *int64 `json:"deleted_at"`
}

func (r remoteNote) note() store.Note {
	return store.Note{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Starred:   r.Starred != 0,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		DeletedAt: r.DeletedAt,
	}
}

func (c *Client) query(ctx context.Context, sql string, params ...any) ([]store.Note, error) {
	res, err := c.do(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	notes := []store.Note{}
	if len(res.Results) == 0 {
		return notes, nil
	}
	var rows []remoteNote
	if err := json.Unmarshal(res.Results, &rows); err != nil {
		return nil, errors.Wrap(err, "decode d1 rows")
	}
	for _, r := range rows {
		notes = append(notes, r.note())
	}
	return notes, nil
}

func (c *Client) exec(ctx context.Context, id, sql string, params ...any) error {
	res, err := c.do(ctx, sql, params...)
	if err != nil {
		return err
	}
	if res.Meta.Changes == 0 {
		return errors.Wrapf(store.ErrNotFound, "id %s", id)
	}
	return nil
}

func starredInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ping checks that the notes table is reachable with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "SELECT COUNT(*) AS count FROM notes")
	return err
}

func (c *Client) List(ctx context.Context) ([]store.Note, error) {
	return c.query(ctx, "SELECT * FROM notes WHERE deleted_at IS NULL ORDER BY updated_at DESC")
}

func (c *Client) ListDeleted(ctx context.Context) ([]store.Note, error) {
	return c.query(ctx, "SELECT * FROM notes WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC")
}

func (c *Client) ListStarred(ctx context.Context) ([]store.Note, error) {
	return c.query(ctx, "SELECT * FROM notes WHERE starred = 1 AND deleted_at IS NULL ORDER BY updated_at DESC")
}

func (c *Client) ListAll(ctx context.Context) ([]store.Note, error) {
	return c.query(ctx, "SELECT * FROM notes ORDER BY updated_at DESC")
}

func (c *Client) Get(ctx context.Context, id string) (store.Note, error) {
	notes, err := c.query(ctx, "SELECT * FROM notes WHERE id = ?1", id)
	if err != nil {
		return store.Note{}, err
	}
	if len(notes) == 0 {
		return store.Note{}, errors.Wrapf(store.ErrNotFound, "id %s", id)
	}
	return notes[0], nil
}

func (c *Client) Create(ctx context.Context, in store.CreateNoteInput) (store.Note, error) {
	now := c.now().Unix()
	n := store.Note{ID: ids.New(), Title: in.Title, Content: in.Content, CreatedAt: now, UpdatedAt: now}
	if _, err := c.do(ctx,
		"INSERT INTO notes (id, title, content, created_at, updated_at) VALUES (?1, ?2, ?3, ?4, ?5)",
		n.ID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt,
	); err != nil {
		return store.Note{}, err
	}
	return n, nil
}

func (c *Client) Update(ctx context.Context, id string, in store.UpdateNoteInput) (store.Note, error) {
	existing, err := c.Get(ctx, id)
	if err != nil {
		return store.Note{}, err
	}
	n := in.Apply(existing)
	n.UpdatedAt = c.now().Unix()
	if err := c.exec(ctx, id,
		"UPDATE notes SET title = ?1, content = ?2, starred = ?3, updated_at = ?4 WHERE id = ?5",
		n.Title, n.Content, starredInt(n.Starred), n.UpdatedAt, id,
	); err != nil {
		return store.Note{}, err
	}
	return n, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.exec(ctx, id, "UPDATE notes SET deleted_at = ?1 WHERE id = ?2", c.now().Unix(), id)
}

func (c *Client) Restore(ctx context.Context, id string) (store.Note, error) {
	if err := c.exec(ctx, id, "UPDATE notes SET deleted_at = NULL WHERE id = ?1", id); err != nil {
		return store.Note{}, err
	}
	return c.Get(ctx, id)
}

func (c *Client) Purge(ctx context.Context, id string) error {
	return c.exec(ctx, id, "DELETE FROM notes WHERE id = ?1", id)
}

func (c *Client) Upsert(ctx context.Context, n store.Note) (store.Note, error) {
	if _, err := c.do(ctx,
		`INSERT INTO notes (id, title, content, starred, created_at, updated_at, deleted_at)
       VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)
       ON CONFLICT(id) DO UPDATE SET
         title = excluded.title,
         content = excluded.content,
         starred = excluded.starred,
         updated_at = excluded.updated_at,
         deleted_at = excluded.deleted_at`,
		n.ID, n.Title, n.Content, starredInt(n.Starred), n.CreatedAt, n.UpdatedAt, n.DeletedAt,
	); err != nil {
		return store.Note{}, err
	}
	return c.Get(ctx, n.ID)
}

var _ store.NoteRepository = (*Client)(nil)
