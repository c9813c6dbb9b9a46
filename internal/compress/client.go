// Package compress drives a task-based PDF compression API: start a task,
// upload the file, process, download the result. Used by the OCR pipeline
// when the provider rejects a document for size.
package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

type Level string

const (
	LevelLow         Level = "low"
	LevelRecommended Level = "recommended"
	LevelExtreme     Level = "extreme"
)

type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration

	httpClient *http.Client
}

type Result struct {
	Data           []byte
	OriginalSize   int64
	CompressedSize int64
}

// Ratio returns compressed/original, or 1 when the original size is unknown.
func (r Result) Ratio() float64 {
	if r.OriginalSize <= 0 {
		return 1
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

type APIError struct {
	StatusCode int
	Step       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("compress %s %d: %s", e.Step, e.StatusCode, e.Message)
}

type startResponse struct {
	Server string `json:"server"`
	Task   string `json:"task"`
}

type uploadResponse struct {
	ServerFilename string `json:"server_filename"`
}

func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.ilovepdf.com/v1"
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Compress runs the full task chain on pdfData and returns the compressed
// bytes. Each step retries once on 5xx.
func (c *Client) Compress(ctx context.Context, fileName string, pdfData []byte, level Level) (Result, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return Result{}, errors.New("compression API key not configured")
	}
	if len(pdfData) == 0 {
		return Result{}, errors.New("pdf data is empty")
	}
	if level == "" {
		level = LevelRecommended
	}
	if strings.TrimSpace(fileName) == "" {
		fileName = "issue.pdf"
	}

	start, err := c.startTask(ctx)
	if err != nil {
		return Result{}, err
	}

	taskBase := fmt.Sprintf("https://%s/v1", start.Server)
	if strings.HasPrefix(start.Server, "http") {
		taskBase = strings.TrimRight(start.Server, "/")
	}

	serverFilename, err := c.uploadFile(ctx, taskBase, start.Task, fileName, pdfData)
	if err != nil {
		return Result{}, err
	}

	if err := c.process(ctx, taskBase, start.Task, fileName, serverFilename, level); err != nil {
		return Result{}, err
	}

	data, err := c.download(ctx, taskBase, start.Task)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Data:           data,
		OriginalSize:   int64(len(pdfData)),
		CompressedSize: int64(len(data)),
	}, nil
}

func (c *Client) startTask(ctx context.Context) (startResponse, error) {
	var out startResponse
	err := c.doJSON(ctx, "start", "GET", c.baseURL+"/start/compress", nil, &out)
	if err != nil {
		return startResponse{}, err
	}
	if strings.TrimSpace(out.Task) == "" {
		return startResponse{}, &APIError{Step: "start", Message: "no task id returned"}
	}
	if strings.TrimSpace(out.Server) == "" {
		// Single-host deployments answer tasks on the base URL.
		out.Server = c.baseURL
	}
	return out, nil
}

func (c *Client) uploadFile(ctx context.Context, taskBase, task, fileName string, data []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fw, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	_, _ = fw.Write(data)
	_ = writer.WriteField("task", task)
	_ = writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", taskBase+"/upload", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", stepError("upload", resp)
	}

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("upload decode: %w", err)
	}
	if strings.TrimSpace(out.ServerFilename) == "" {
		return "", &APIError{Step: "upload", Message: "no server filename returned"}
	}
	return out.ServerFilename, nil
}

func (c *Client) process(ctx context.Context, taskBase, task, fileName, serverFilename string, level Level) error {
	payload := map[string]any{
		"task": task,
		"tool": "compress",
		"files": []map[string]string{
			{"server_filename": serverFilename, "filename": fileName},
		},
		"compression_level": string(level),
	}
	return c.doJSON(ctx, "process", "POST", taskBase+"/process", payload, &struct{}{})
}

func (c *Client) download(ctx context.Context, taskBase, task string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", taskBase+"/download/"+task, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, stepError("download", resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 500<<20))
	if err != nil {
		return nil, fmt.Errorf("download read: %w", err)
	}
	if len(data) == 0 {
		return nil, &APIError{Step: "download", Message: "empty result"}
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, step, method, url string, payload any, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("%s marshal: %w", step, err)
			}
			body = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", step, err)
			continue
		}

		func() {
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = stepError(step, resp)
				return
			}
			lastErr = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
			if lastErr == io.EOF {
				lastErr = nil
			}
		}()

		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}

func stepError(step string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Step: step, Message: msg}
}
