// Package crawl fetches web pages, extracts their main content as
// Markdown, and hands the resulting documents to the ingestion queue.
package crawl

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrInvalidURL marks URLs that cannot be crawled at all.
	ErrInvalidURL = errors.New("invalid url")
	// ErrPrivateAddress marks URLs the SSRF guard refuses to fetch.
	ErrPrivateAddress = errors.New("url resolves to a private address")
)

// NormalizeURL canonicalizes a URL so that the visited set and stored
// source_url values compare consistently. Normalizing an already
// normalized URL returns it unchanged.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	path := collapseSlashes(u.Path)
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	u.Path = path

	return u.String(), nil
}

func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// ValidateURL rejects URLs that point at local or private addresses.
// Hostnames that are not IP literals pass; the guard covers literals
// and leaves DNS-level protection to the network layer.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}

	if looksLikeIPv4(host) {
		octets, ok := parseIPv4(host)
		if !ok {
			return fmt.Errorf("%w: malformed address %s", ErrPrivateAddress, host)
		}
		if privateIPv4(octets) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
		}
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			if privateIPv4([4]int{int(v4[0]), int(v4[1]), int(v4[2]), int(v4[3])}) {
				return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
			}
			return nil
		}
		if privateIPv6(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
		}
	}
	return nil
}

// looksLikeIPv4 reports whether host is four dot-separated numeric
// parts. Such a host must then validate as a real address, so
// "10.0.0.999" is rejected rather than treated as a hostname.
func looksLikeIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func parseIPv4(host string) ([4]int, bool) {
	var octets [4]int
	for i, part := range strings.Split(host, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return octets, false
		}
		octets[i] = n
	}
	return octets, true
}

func privateIPv4(o [4]int) bool {
	switch {
	case o[0] == 127:
		return true
	case o[0] == 10:
		return true
	case o[0] == 172 && o[1] >= 16 && o[1] <= 31:
		return true
	case o[0] == 192 && o[1] == 168:
		return true
	case o[0] == 169 && o[1] == 254:
		return true
	}
	return false
}

func privateIPv6(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsLinkLocalUnicast() {
		return true
	}
	v6 := ip.To16()
	return v6 != nil && v6[0]&0xfe == 0xfc
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && strings.EqualFold(a.Host, b.Host)
}
