// Package guard provides the safety primitives sospull applies at its trust
// boundaries: URL validation for outbound requests (SSRF prevention), path
// guards for artifact names derived from caller-supplied request ids,
// credential sanity checks, and bounded response reads.
package guard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// MinAPIKeyLen is the minimum acceptable length for a solving-service API
// key. Real solver keys are 32 hex characters; anything shorter is almost
// certainly a misconfiguration.
const MinAPIKeyLen = 16

// MaxResponseBody caps HTTP response body reads (1 MiB). Solver responses
// are small JSON documents; registry pages fit comfortably under this.
const MaxResponseBody int64 = 1 << 20

// ErrAPIKeyTooShort is returned when a solver credential does not meet MinAPIKeyLen.
var ErrAPIKeyTooShort = fmt.Errorf("guard: API key must be at least %d characters", MinAPIKeyLen)

// ErrPathTraversal is returned when a caller-supplied name escapes its base directory.
var ErrPathTraversal = errors.New("guard: path traversal detected")

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("guard: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("guard: only http and https schemes are allowed")

// ValidateAPIKey checks that the solving-service credential is plausible.
func ValidateAPIKey(key string) error {
	if len(key) < MinAPIKeyLen {
		return ErrAPIKeyTooShort
	}
	return nil
}

// SafePath validates that joining base and name does not escape base.
// Request ids come from the caller and end up in artifact file names, so
// they must never be trusted as path components.
// Returns the cleaned joined path or ErrPathTraversal.
func SafePath(base, name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+name))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP. Applied to the registry and
// solver base URLs at config load, and to any redirect target.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("guard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("guard: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// DNS failure: allow through. The caller will get a network error
		// at connection time anyway.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and errors past the limit.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("guard: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
