// Package blob is the client for the media store holding issue PDFs and
// extracted-text artifacts: multipart upload, delete by key, and expiring
// HMAC-signed GET URLs.
package blob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL       string
	apiKey        string
	signingSecret string
	timeout       time.Duration

	httpClient *http.Client
}

// Object describes a stored blob.
type Object struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("blob store %d: %s", e.StatusCode, e.Message)
}

func NewClient(baseURL, apiKey, signingSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		signingSecret: signingSecret,
		timeout:       timeout,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Upload stores data under a store-chosen key within folder and returns the
// key and public URL.
func (c *Client) Upload(ctx context.Context, folder, fileName, contentType string, data io.Reader) (Object, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return Object{}, errors.New("blob store URL not configured")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fw, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return Object{}, err
	}
	n, err := io.Copy(fw, data)
	if err != nil {
		return Object{}, fmt.Errorf("buffer upload: %w", err)
	}
	if n == 0 {
		return Object{}, errors.New("upload body is empty")
	}
	_ = writer.WriteField("folder", folder)
	if strings.TrimSpace(contentType) != "" {
		_ = writer.WriteField("contentType", contentType)
	}
	_ = writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/files", body)
	if err != nil {
		return Object{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Object{}, responseError(resp)
	}

	var obj Object
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&obj); err != nil {
		return Object{}, fmt.Errorf("upload decode: %w", err)
	}
	if strings.TrimSpace(obj.Key) == "" {
		return Object{}, errors.New("blob store returned no key")
	}
	if obj.Size == 0 {
		obj.Size = n
	}
	return obj, nil
}

// Delete removes the object. Missing objects are not an error; deletes run
// best-effort after row deletion.
func (c *Client) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("blob key required")
	}

	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/files/"+url.PathEscape(key), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}
	return nil
}

// SignedURL builds an expiring GET URL for key: exp (unix seconds) and an
// HMAC-SHA256 signature over "key\nexp" as query parameters.
func (c *Client) SignedURL(key string, lifetime time.Duration) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("blob key required")
	}
	if strings.TrimSpace(c.signingSecret) == "" {
		return "", errors.New("signing secret not configured")
	}
	if lifetime <= 0 {
		lifetime = 15 * time.Minute
	}

	exp := time.Now().Add(lifetime).Unix()
	sig := sign(c.signingSecret, key, exp)

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)

	return c.baseURL + "/files/" + url.PathEscape(key) + "?" + q.Encode(), nil
}

func sign(secret, key string, exp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
