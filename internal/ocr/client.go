// Package ocr talks to the external OCR API. Requests reference the issue
// PDF by URL and carry a 0-indexed page selection, so per-article OCR never
// needs a physically split PDF.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Page struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type Response struct {
	Pages     []Page    `json:"pages"`
	Model     string    `json:"model"`
	UsageInfo UsageInfo `json:"usage_info"`
}

type UsageInfo struct {
	PagesProcessed int  `json:"pages_processed"`
	DocSizeBytes   *int `json:"doc_size_bytes"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const (
	maxRetries     = 2
	retryDelay     = 2 * time.Second
	requestTimeout = 120 * time.Second
)

// ErrTooLarge marks size rejections; the pipeline compresses and retries.
var ErrTooLarge = errors.New("document exceeds OCR size limit")

type Client struct {
	apiKey string
	apiURL string
	model  string

	httpClient *http.Client
}

func NewClient(apiKey, apiURL, model string) *Client {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = "https://api.mistral.ai/v1/ocr"
	}
	if strings.TrimSpace(model) == "" {
		model = "mistral-ocr-latest"
	}
	return &Client{
		apiKey: apiKey,
		apiURL: apiURL,
		model:  model,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Process runs OCR on documentURL. pages0 is a 0-indexed page selection; an
// empty slice means the whole document. Retries with linear backoff on 5xx,
// short-circuits on 4xx; size rejections come back wrapped in ErrTooLarge.
func (c *Client) Process(ctx context.Context, documentURL string, pages0 []int) (Response, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return Response{}, fmt.Errorf("OCR API key not configured")
	}
	if strings.TrimSpace(documentURL) == "" {
		return Response{}, fmt.Errorf("document URL required")
	}

	if len(pages0) > 0 {
		sort.Ints(pages0)
		pages0 = uniqueInts(pages0)

		for _, p := range pages0 {
			if p < 0 || p > 10000 {
				return Response{}, fmt.Errorf("invalid page: %d", p)
			}
		}
	}

	body := map[string]any{
		"model": c.model,
		"document": map[string]any{
			"type":         "document_url",
			"document_url": documentURL,
		},
	}
	if len(pages0) > 0 {
		body["pages"] = pages0
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal: %w", err)
	}

	return withConcurrencyLimit(ctx, func() (Response, error) {
		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return Response{}, ctx.Err()
				case <-time.After(retryDelay * time.Duration(attempt)):
				}
			}

			result, err := c.execute(ctx, bodyBytes)
			if err == nil {
				return result, nil
			}

			lastErr = err

			if isTooLarge(err) {
				return Response{}, fmt.Errorf("%w: %s", ErrTooLarge, err.Error())
			}
			if isClientError(err) {
				break
			}
		}

		return Response{}, fmt.Errorf("OCR failed after %d attempts: %w", maxRetries+1, lastErr)
	})
}

func (c *Client) execute(ctx context.Context, bodyBytes []byte) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", c.apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "magarchive/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, parseErrorResponse(resp)
	}

	var result Response
	decoder := json.NewDecoder(io.LimitReader(resp.Body, 100<<20))
	if err := decoder.Decode(&result); err != nil {
		return Response{}, fmt.Errorf("decode: %w", err)
	}

	if len(result.Pages) == 0 {
		return Response{}, fmt.Errorf("OCR returned no pages")
	}

	for i, page := range result.Pages {
		if page.Index < 0 {
			return Response{}, fmt.Errorf("invalid page index at %d: %d", i, page.Index)
		}
		if len(page.Markdown) > 10<<20 {
			return Response{}, fmt.Errorf("page %d markdown too large: %dMB", page.Index, len(page.Markdown)/(1<<20))
		}
	}

	return result, nil
}

func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp apiErrorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errResp.Error.Message,
			Type:       errResp.Error.Type,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(bodyBytes),
		Type:       "unknown",
	}
}

type APIError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ocr %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

func isClientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

func isTooLarge(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusRequestEntityTooLarge {
		return true
	}
	msg := strings.ToLower(apiErr.Message + " " + apiErr.Type)
	return strings.Contains(msg, "too large") || strings.Contains(msg, "size limit") || strings.Contains(msg, "exceeds maximum")
}

func uniqueInts(xs []int) []int {
	if len(xs) == 0 {
		return xs
	}

	seen := make(map[int]bool, len(xs))
	out := make([]int, 0, len(xs))

	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}

	return out
}
