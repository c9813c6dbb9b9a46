package fetch

import (
	"strings"
	"testing"
)

func TestValidateURLRejectsNonHTTPS(t *testing.T) {
	if err := ValidateURL("http://example.com/issue.pdf"); err == nil {
		t.Fatalf("expected non-https URL to be rejected")
	}
}

func TestValidateURLRejectsLocalAndPrivateHosts(t *testing.T) {
	cases := []string{
		"https://localhost/issue.pdf",
		"https://127.0.0.1/issue.pdf",
		"https://10.0.0.5/issue.pdf",
		"https://192.168.1.5/issue.pdf",
		"https://100.64.0.1/issue.pdf",
	}

	for _, c := range cases {
		if err := ValidateURL(c); err == nil {
			t.Fatalf("expected URL %q to be rejected", c)
		}
	}
}

func TestValidateURLAllowsPublicHTTPS(t *testing.T) {
	if err := ValidateURL("https://cdn.example.com/issue.pdf"); err != nil {
		t.Fatalf("expected public https URL to be allowed, got %v", err)
	}
}

func TestValidateURLAllowsPrivateWhenEnabled(t *testing.T) {
	t.Setenv("ALLOW_PRIVATE_SOURCE_URLS", "1")

	cases := []string{
		"http://localhost/issue.pdf",
		"http://127.0.0.1/issue.pdf",
		"https://10.0.0.5/issue.pdf",
	}
	for _, c := range cases {
		if err := ValidateURL(c); err != nil {
			t.Fatalf("expected URL %q to be allowed with private flag, got %v", c, err)
		}
	}
}

func TestValidateURLRejectsPublicHTTPWhenEnabled(t *testing.T) {
	t.Setenv("ALLOW_PRIVATE_SOURCE_URLS", "1")

	if err := ValidateURL("http://example.com/issue.pdf"); err == nil {
		t.Fatalf("expected public http URL to remain rejected")
	}
}

func TestSaveUploadEnforcesSizeCap(t *testing.T) {
	body := strings.NewReader(strings.Repeat("x", 2048))
	if _, err := SaveUpload(body, "big.pdf", 1024); err == nil {
		t.Fatalf("expected oversized upload to be rejected")
	}
}

func TestSaveUploadSniffsPDF(t *testing.T) {
	body := strings.NewReader("%PDF-1.7\n1 0 obj\n<<>>\nendobj\ntrailer\n")
	f, err := SaveUpload(body, "issue.pdf", 1<<20)
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	defer f.Cleanup()

	if !f.IsPDF() {
		t.Fatalf("expected PDF sniff, got %q", f.MIMEType)
	}
	if f.Size == 0 {
		t.Fatalf("expected non-zero size")
	}
}
