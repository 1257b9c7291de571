// Package restclient sends JSON requests to the Identity and Content APIs and
// classifies their failures.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"conduit-client/internal/apierr"
)

// maxErrorBody bounds how much of a failed response is read for error details.
const maxErrorBody = 1 << 20

// Request describes one call. Path is relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Token, when set, is sent as a bearer credential.
	Token string
}

func (r Request) op() string {
	return r.Method + " " + r.Path
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// New returns a client for baseURL. A nil httpClient gets a 30s timeout; the
// transport's timeout is the only one enforced.
func New(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// BaseURL returns the URL every request path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req and decodes a 2xx JSON body into out, which may be nil.
// Non-2xx responses become *apierr.ValidationError or *apierr.HTTPError;
// transport failures become *apierr.NetworkError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	requestID := uuid.NewString()
	logger := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     req.Method,
		"path":       req.Path,
	})

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	res, err := c.http.Do(httpReq)
	if err != nil {
		logger.Warnf("request failed: %v", err)
		return &apierr.NetworkError{Op: req.op(), Err: err}
	}
	defer res.Body.Close()

	logger = logger.WithFields(logrus.Fields{
		"status":   res.StatusCode,
		"duration": time.Since(started),
	})

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		if readErr != nil {
			logger.Warnf("read error body: %v", readErr)
		}
		apiErr := apierr.FromResponse(res.StatusCode, body)
		logger.Debugf("api error: %v", apiErr)
		return apiErr
	}
	logger.Debug("request completed")

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.op(), err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.op(), err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.op(), err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	return httpReq, nil
}
