// ABOUTME: HTTP client for the Cloudmersive document conversion API
// ABOUTME: Uploads a staged file as multipart form data and returns the converted bytes

package cloudmersive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/convertbot/internal/catalog"
)

// DefaultBaseURL is the public Cloudmersive API endpoint.
const DefaultBaseURL = "https://api.cloudmersive.com"

// maxErrorBody caps how much of an error response is kept for logs.
const maxErrorBody = 512

// Client calls conversion endpoints. It implements convert.Backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client. An empty baseURL uses DefaultBaseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// textResult is the JSON shape returned by text- and HTML-producing endpoints.
type textResult struct {
	Successful *bool  `json:"Successful"`
	TextResult string `json:"TextResult"`
	HTML       string `json:"Html"`
}

// Convert uploads inputPath to the capability's endpoint.
func (c *Client) Convert(ctx context.Context, capability catalog.Capability, inputPath string) ([]byte, error) {
	if capability.Path == "" {
		return nil, fmt.Errorf("capability %q has no endpoint", capability.ID)
	}

	body, contentType, err := multipartBody(inputPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+capability.Path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.handleErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		return decodeTextResult(data)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response from %s", capability.Path)
	}
	return data, nil
}

// multipartBody encodes the file under the "inputFile" form field.
func multipartBody(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("inputFile", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying input: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// handleErrorResponse extracts an error message from a non-2xx response.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))

	if isJSON(resp.Header.Get("Content-Type")) {
		var errResp struct {
			Message string `json:"Message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			switch {
			case errResp.Message != "":
				msg = errResp.Message
			case errResp.Error != "":
				msg = errResp.Error
			}
		}
	}
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, msg)
}

// decodeTextResult unwraps JSON text/HTML results into raw bytes.
func decodeTextResult(data []byte) ([]byte, error) {
	var res textResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if res.Successful != nil && !*res.Successful {
		return nil, fmt.Errorf("backend reported an unsuccessful conversion")
	}
	switch {
	case res.TextResult != "":
		return []byte(res.TextResult), nil
	case res.HTML != "":
		return []byte(res.HTML), nil
	default:
		return nil, fmt.Errorf("backend response had no result content")
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
