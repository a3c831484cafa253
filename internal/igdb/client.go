// Package igdb is the remote-source adapter for the IGDB REST API.
//
// The API exposes paginated Apicalypse queries (fields/offset/limit/sort/
// where) over POST requests, authenticated with a Twitch client-credentials
// token, and rate-limited to four requests per second. Requests are issued
// strictly sequentially; the blocking limiter sleeps before a request when
// the previous one completed too recently -- it is the only suspension
// point besides network I/O itself.
package igdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIURL  = "https://api.igdb.com/v4"
	defaultAuthURL = "https://id.twitch.tv/oauth2/token"

	// MaxPageSize is the largest page the API serves per fetch.
	MaxPageSize = 500

	// defaultInterval keeps the client under the 4 req/s rate limit.
	defaultInterval = 250 * time.Millisecond
)

// Query describes one paginated fetch: which fields to request, the page
// window, the sort column and an optional filter condition.
type Query struct {
	Fields string
	Offset int
	Limit  int
	Sort   string
	Where  string
}

// body renders the query in Apicalypse syntax.
func (q Query) body() string {
	var b strings.Builder
	if q.Fields != "" {
		fmt.Fprintf(&b, "fields %s; ", q.Fields)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, "offset %d; ", q.Offset)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "limit %d; ", q.Limit)
	}
	if q.Sort != "" {
		fmt.Fprintf(&b, "sort %s; ", q.Sort)
	}
	if q.Where != "" {
		fmt.Fprintf(&b, "where %s; ", q.Where)
	}
	return strings.TrimRight(b.String(), " ")
}

// Config holds client construction settings.
type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string        // default: the public IGDB v4 endpoint
	AuthURL      string        // default: the Twitch token endpoint
	Interval     time.Duration // minimum time between requests
	HTTPClient   *http.Client
}

// Client is the IGDB REST API client. It is not safe for concurrent use;
// the whole system issues one request at a time by design.
type Client struct {
	clientID     string
	clientSecret string
	apiURL       string
	authURL      string
	token        string
	httpc        *http.Client
	limiter      *rate.Limiter
}

// New creates a client. Authenticate must be called before the first query.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiURL:       cfg.APIURL,
		authURL:      cfg.AuthURL,
		httpc:        cfg.HTTPClient,
		limiter:      rate.NewLimiter(rate.Every(cfg.Interval), 1),
	}
}

// Authenticate obtains an access token via the client-credentials flow.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth request: unexpected status %s", resp.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("auth response: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("auth response: no access token")
	}
	c.token = payload.AccessToken
	return nil
}

// Count returns the number of rows of a resource matching the filter
// condition ("" counts the whole resource).
func (c *Client) Count(ctx context.Context, endpoint, where string) (int, error) {
	q := Query{Where: where}
	body, err := c.post(ctx, strings.TrimSuffix(endpoint, "/")+"/count", q.body())
	if err != nil {
		return 0, err
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("count %s: %w", endpoint, err)
	}
	return payload.Count, nil
}

// Fetch returns one page of rows. Numbers are decoded to int64 when
// integral and float64 otherwise, so row values can be stored directly.
func (c *Client) Fetch(ctx context.Context, endpoint string, q Query) ([]map[string]any, error) {
	if q.Limit <= 0 || q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	body, err := c.post(ctx, endpoint, q.body())
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}

	for _, row := range raw {
		for k, v := range row {
			row[k] = normalize(v)
		}
	}
	return raw, nil
}

// MaxValue returns the maximum value of a column over a resource, or 0
// when the resource is empty.
func (c *Client) MaxValue(ctx context.Context, endpoint, column string) (int64, error) {
	rows, err := c.Fetch(ctx, endpoint, Query{
		Fields: column,
		Limit:  1,
		Sort:   column + " desc",
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, _ := rows[0][column].(int64)
	return v, nil
}

// DownloadImage fetches an auxiliary asset to a local file. Failures are
// reported to the caller for logging; they never abort row processing.
func (c *Client) DownloadImage(ctx context.Context, srcURL, dest string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", srcURL, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", srcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", srcURL, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", srcURL, err)
	}
	return f.Close()
}

// post issues one rate-limited API request and returns the response body.
func (c *Client) post(ctx context.Context, endpoint, body string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %s", endpoint, resp.Status)
	}
	return data, nil
}

// normalize converts json.Number values (recursively through lists and
// maps) to int64 or float64.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	default:
		return v
	}
}
