package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	localityPrefix  = regexp.MustCompile(`^(gouvernorat|governorate|delegation|délégation|ville)\s+(de\s+|d')?`)
)

// CanonicalURL produces the stable identity of a listing page: lowercased scheme and
// host, default port and fragment dropped, query parameters sorted.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q: unsupported scheme", raw)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			for _, v := range q[k] {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// NormalizePlace lowercases a place name, strips administrative prefixes and collapses whitespace.
func NormalizePlace(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = localityPrefix.ReplaceAllString(name, "")
	name = multiSpaceRegex.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// LocalityKey groups properties for geocode caching and market statistics.
func LocalityKey(city string, region *string) string {
	r := ""
	if region != nil {
		r = *region
	}
	return NormalizePlace(city) + "_" + NormalizePlace(r)
}

// ContentHash is used to key mirrored images.
func ContentHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
