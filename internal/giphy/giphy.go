// Package giphy finds GIFs through the Giphy REST API.
package giphy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrNotConfigured = errors.New("giphy: api key is not set")
	ErrNoResults     = errors.New("giphy: no results")
)

const defaultTimeout = 15 * time.Second

type Options struct {
	APIKey  string
	BaseURL string
	Rating  string
	Lang    string
	// HTTPClient overrides the default client with a 15s timeout.
	HTTPClient *http.Client
}

type Client struct {
	apiKey  string
	baseURL string
	rating  string
	lang    string
	http    *http.Client
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		rating:  opts.Rating,
		lang:    opts.Lang,
		http:    hc,
	}
}

// Search returns the URL of the best match for query.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	params := url.Values{
		"q":      {query},
		"limit":  {"1"},
		"offset": {"0"},
		"rating": {c.rating},
		"lang":   {c.lang},
	}
	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return "", err
	}
	u := gjson.GetBytes(body, "data.0.images.original.url").String()
	if u == "" {
		return "", ErrNoResults
	}
	return u, nil
}

// Random returns the URL of a random GIF.
func (c *Client) Random(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/random", url.Values{"rating": {c.rating}})
	if err != nil {
		return "", err
	}
	u := gjson.GetBytes(body, "data.images.original.url").String()
	if u == "" {
		return "", ErrNoResults
	}
	return u, nil
}

// Find searches for query and falls back to a random GIF when nothing matches.
func (c *Client) Find(ctx context.Context, query string) (string, error) {
	u, err := c.Search(ctx, query)
	if errors.Is(err, ErrNoResults) {
		return c.Random(ctx)
	}
	return u, err
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("giphy %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read giphy %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("giphy %s: status %d: %s", path, resp.StatusCode, gjson.GetBytes(body, "meta.msg").String())
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("giphy %s: invalid json", path)
	}
	return body, nil
}
