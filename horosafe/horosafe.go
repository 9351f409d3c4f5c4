// Package horosafe provides the safety primitives used when fouille talks to
// the open web: URL checks before following a result link (SSRF prevention),
// host extraction for per-domain bookkeeping, and bounded body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (2 MiB).
const MaxResponseBody int64 = 2 << 20

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrNoHost is returned when a URL carries no host component.
var ErrNoHost = errors.New("horosafe: URL has no host")

// ValidateScheme checks that rawURL parses, uses http/https and has a host.
// It performs no DNS resolution.
func ValidateScheme(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, ErrNoHost
	}
	return u, nil
}

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP (SSRF prevention).
// DNS resolution is performed to catch rebinding via internal hostnames.
func ValidateURL(rawURL string) error {
	u, err := ValidateScheme(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable hosts fail later at dial time.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// Domain returns the lowercased host of rawURL without port, or "" when the
// URL does not parse or has no host.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Origin returns scheme://host[:port] for rawURL, or "" when there is no host.
func Origin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host)
}

// LimitedReadAll reads at most maxBytes from r. Returns an error if the limit
// is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

var privateRanges = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"fc00::/7",
	"169.254.0.0/16",
	"::1/128",
)

func mustCIDRs(nets ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(nets))
	for _, n := range nets {
		_, cidr, err := net.ParseCIDR(n)
		if err != nil {
			panic(err)
		}
		out = append(out, cidr)
	}
	return out
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
