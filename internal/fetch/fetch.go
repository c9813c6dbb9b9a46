// Package fetch retrieves issue PDFs into temp files, either from a remote
// URL or from an upload stream, with SSRF validation and size caps.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// File is a PDF saved to a temp directory. Callers own Cleanup.
type File struct {
	TempDir  string
	Path     string
	MIMEType string
	Size     int64
}

func (f File) Cleanup() {
	if f.TempDir != "" {
		_ = os.RemoveAll(f.TempDir)
	}
}

// IsPDF reports whether the sniffed type looks like a PDF.
func (f File) IsPDF() bool {
	return strings.HasPrefix(f.MIMEType, "application/pdf")
}

// RemotePDF downloads url to a temp file, enforcing HTTPS, public hosts and
// maxBytes. The returned file is sniffed but not required to be a PDF;
// callers decide whether to reject non-PDF payloads.
func RemotePDF(ctx context.Context, rawURL, fileName string, maxBytes int64, timeout time.Duration) (File, error) {
	if err := ValidateURL(rawURL); err != nil {
		return File{}, err
	}

	tmpDir, err := os.MkdirTemp("", "magarchive-*")
	if err != nil {
		return File{}, fmt.Errorf("temp dir: %w", err)
	}

	safeName := strings.TrimSpace(fileName)
	if safeName == "" {
		safeName = "issue.pdf"
	}
	outPath := filepath.Join(tmpDir, filepath.Base(safeName))

	req, _ := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	req.Header.Set("User-Agent", "magarchive/1.0")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return File{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = os.RemoveAll(tmpDir)
		return File{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	return writeCapped(tmpDir, outPath, resp.Body, maxBytes)
}

// SaveUpload streams a multipart upload body to a temp file with the same
// size cap and MIME sniffing as RemotePDF.
func SaveUpload(body io.Reader, fileName string, maxBytes int64) (File, error) {
	tmpDir, err := os.MkdirTemp("", "magarchive-*")
	if err != nil {
		return File{}, fmt.Errorf("temp dir: %w", err)
	}

	safeName := strings.TrimSpace(fileName)
	if safeName == "" {
		safeName = "issue.pdf"
	}
	outPath := filepath.Join(tmpDir, filepath.Base(safeName))

	return writeCapped(tmpDir, outPath, body, maxBytes)
}

func writeCapped(tmpDir, outPath string, body io.Reader, maxBytes int64) (File, error) {
	f, err := os.Create(outPath)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return File{}, fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	lr := &io.LimitedReader{R: body, N: maxBytes + 1}
	n, err := io.Copy(f, lr)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return File{}, fmt.Errorf("write: %w", err)
	}
	if n > maxBytes {
		_ = os.RemoveAll(tmpDir)
		return File{}, fmt.Errorf("file exceeds %dMB limit", maxBytes/(1<<20))
	}

	if err := f.Sync(); err != nil {
		_ = os.RemoveAll(tmpDir)
		return File{}, fmt.Errorf("sync: %w", err)
	}

	return File{
		TempDir:  tmpDir,
		Path:     outPath,
		MIMEType: sniffMIMEType(outPath),
		Size:     n,
	}, nil
}

// ValidateURL enforces HTTPS and rejects local, private and CGNAT hosts
// unless ALLOW_PRIVATE_SOURCE_URLS is set (blob stores on a private network).
func ValidateURL(rawURL string) error {
	allowPrivate := allowPrivateSourceURLs()

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed == nil {
		return fmt.Errorf("invalid source URL")
	}

	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return fmt.Errorf("source URL host is required")
	}

	isLocalName := host == "localhost" || strings.HasSuffix(host, ".localhost")
	isPrivateIP := false

	ip := net.ParseIP(host)
	if ip != nil {
		isPrivateIP = isPrivateOrLocalIP(ip)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if !(allowPrivate && (isLocalName || isPrivateIP)) {
			return fmt.Errorf("source URL must use https")
		}
	default:
		return fmt.Errorf("source URL must use https")
	}

	if isLocalName || isPrivateIP {
		if allowPrivate {
			return nil
		}
		return fmt.Errorf("source URL host is not allowed")
	}

	return nil
}

func allowPrivateSourceURLs() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_PRIVATE_SOURCE_URLS")))
	return v == "1" || v == "true" || v == "yes"
}

func isPrivateOrLocalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}

	// RFC6598 carrier-grade NAT range: 100.64.0.0/10
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
		return true
	}
	return false
}

func sniffMIMEType(path string) string {
	m, err := mimetype.DetectFile(path)
	if err == nil && m != nil {
		return strings.ToLower(strings.TrimSpace(m.String()))
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n <= 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(http.DetectContentType(buf[:n])))
}
