package guard

import (
	"bytes"
	"strings"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	if err := ValidateAPIKey("short"); err == nil {
		t.Fatal("expected error for short key")
	}
	if err := ValidateAPIKey(strings.Repeat("a", MinAPIKeyLen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSafePath(t *testing.T) {
	// WHAT: Request ids become artifact file names; traversal must be rejected.
	cases := []struct {
		name string
		ok   bool
	}{
		{"req-123.json", true},
		{"../etc/passwd", false},
		{"a/../../b", false},
		{"nested/run.json", true},
	}
	for _, tc := range cases {
		_, err := SafePath("/data/results", tc.name)
		if tc.ok && err != nil {
			t.Errorf("SafePath(%q): unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("SafePath(%q): expected traversal error", tc.name)
		}
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://example.com/search", true},
		{"http://example.com", true},
		{"ftp://example.com", false},
		{"https://127.0.0.1/", false},
		{"https://10.0.0.5/api", false},
		{"https://", false},
	}
	for _, tc := range cases {
		err := ValidateURL(tc.url)
		if tc.ok && err != nil {
			t.Errorf("ValidateURL(%q): unexpected error: %v", tc.url, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateURL(%q): expected error", tc.url)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(bytes.NewReader([]byte("hello")), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(bytes.NewReader(bytes.Repeat([]byte("x"), 100)), 10); err == nil {
		t.Fatal("expected size error")
	}
}
