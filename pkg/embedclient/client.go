// Package embedclient is a Go client for the embed service's HTTP API.
package embedclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is where the service listens in a local deployment.
	DefaultBaseURL = "http://localhost:8001"
	// DefaultTimeout bounds a single request, including upload and inference.
	DefaultTimeout = 15 * time.Second

	// ReasonNoFace is the reason reported when the image contains no face.
	ReasonNoFace = "no_face"

	fileField   = "image"
	fileName    = "frame.jpg"
	contentType = "image/jpeg"
)

// ErrNoFace is returned by Embed when the service found no face in the image.
var ErrNoFace = errors.New("no face detected")

// StatusError is returned for non-200 responses. Detail carries the
// problem details "detail" field when the body has one, the raw body otherwise.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embed request failed with status %d: %s", e.StatusCode, e.Detail)
}

// ClientOptions configures the embed service client
type ClientOptions struct {
	// BaseURL is the service root (default: DefaultBaseURL). A trailing /embed is stripped.
	BaseURL string
	// Timeout is the HTTP client timeout (default: 15 seconds)
	Timeout time.Duration
	// RetryMax is the number of retries on connection errors and 5xx responses (default: 0)
	RetryMax int
	// Logger receives retry attempts. Nil disables retry logging.
	Logger *slog.Logger
}

// Client calls the embed service.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient creates a client for baseURL with default settings
func NewClient(baseURL string) *Client {
	return NewClientWithOptions(ClientOptions{BaseURL: baseURL})
}

// NewClientWithOptions creates a client with custom options
func NewClientWithOptions(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/embed")

	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	// Hand the last response back instead of a generic "giving up" error.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil
	if opts.Logger != nil {
		retryClient.Logger = opts.Logger
	}

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: retryClient,
	}
}

// EmbedResponse is the body of a 200 response from POST /embed.
type EmbedResponse struct {
	OK        bool      `json:"ok"`
	Embedding []float32 `json:"embedding,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type problemDetails struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Embed uploads image bytes and returns the embedding of the largest face.
// It returns ErrNoFace when the image contains no face.
func (c *Client) Embed(ctx context.Context, image []byte) ([]float32, error) {
	resp, err := c.EmbedRaw(ctx, image)
	if err != nil {
		return nil, err
	}

	if !resp.OK {
		if resp.Reason == ReasonNoFace {
			return nil, ErrNoFace
		}

		return nil, fmt.Errorf("embedding failed: %s", resp.Reason)
	}

	if len(resp.Embedding) == 0 {
		return nil, errors.New("embedding failed: empty embedding")
	}

	return resp.Embedding, nil
}

// EmbedBase64 decodes a base64 image, optionally prefixed as a data URL, and embeds it.
func (c *Client) EmbedBase64(ctx context.Context, encoded string) ([]float32, error) {
	image, err := base64.StdEncoding.DecodeString(StripDataURL(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	return c.Embed(ctx, image)
}

// EmbedRaw uploads image bytes and returns the decoded 200 response as is.
func (c *Client) EmbedRaw(ctx context.Context, image []byte) (*EmbedResponse, error) {
	body, formType, err := multipartBody(image)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", formType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out EmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &out, nil
}

// Health checks GET /health and returns the model the service reports.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	return resp.Header.Get("X-Face-Model"), nil
}

// StripDataURL removes a "data:<type>;base64," prefix if present.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}

	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}

	return s
}

func multipartBody(image []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, fileName))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		slog.Error("Failed to read error response body", "error", err)
	}

	detail := strings.TrimSpace(string(body))

	var problem problemDetails
	if json.Unmarshal(body, &problem) == nil {
		switch {
		case problem.Detail != "":
			detail = problem.Detail
		case problem.Title != "":
			detail = problem.Title
		}
	}

	return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
}
