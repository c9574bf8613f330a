// Package backend is the HTTP client for the shop's REST API. It attaches the
// stored credential, insists on JSON responses and turns failures into the
// domain error taxonomy; it never retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bodyshop-storefront/internal/domain"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// New builds a Client for the API rooted at baseURL (e.g. http://host/api).
// httpClient may be nil.
func New(baseURL string, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    httpClient,
		logger:  logger.With().Str("component", "backend").Logger(),
	}, nil
}

// BaseURL is the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do issues one request. body is JSON-encoded when non-nil; out, when non-nil,
// receives the decoded JSON response.
func (c *Client) do(ctx context.Context, creds domain.Credentials, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.endpoint(path, query)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h := creds.AuthorizationHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return &domain.ContentError{Endpoint: c.endpoint(path, nil), ContentType: resp.Header.Get("Content-Type")}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func decodeAPIError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &domain.APIError{Status: resp.StatusCode, Payload: payload}
	if !isJSON(resp.Header.Get("Content-Type")) {
		apiErr.Detail = strings.TrimSpace(http.StatusText(resp.StatusCode))
		return apiErr
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return apiErr
	}
	apiErr.Fields = make(map[string][]string)
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			if k == "detail" {
				apiErr.Detail = val
				continue
			}
			apiErr.Fields[k] = []string{val}
		case []interface{}:
			for _, item := range val {
				apiErr.Fields[k] = append(apiErr.Fields[k], fmt.Sprint(item))
			}
		default:
			raw, _ := json.Marshal(val)
			apiErr.Fields[k] = []string{string(raw)}
		}
	}
	if len(apiErr.Fields) == 0 {
		apiErr.Fields = nil
	}
	return apiErr
}
