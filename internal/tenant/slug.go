package tenant

import (
	"net"
	"strings"
)

// HostToSlug maps a request host to a tenant slug. An empty result means
// the host addresses no tenant.
type HostToSlug func(host string) string

// SubdomainSlug returns a HostToSlug that uses the leftmost subdomain label.
// With a non-empty suffix (e.g. "app.example.com") only hosts under that
// suffix yield a slug; without one the host needs at least three labels.
func SubdomainSlug(suffix string) HostToSlug {
	suffix = strings.ToLower(strings.Trim(suffix, "."))

	return func(host string) string {
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.ToLower(strings.TrimSuffix(host, "."))
		host = strings.TrimPrefix(host, "www.")

		if suffix != "" {
			if !strings.HasSuffix(host, "."+suffix) {
				return ""
			}
			host = strings.TrimSuffix(host, "."+suffix)
		} else if strings.Count(host, ".") < 2 {
			return ""
		}

		label, _, _ := strings.Cut(host, ".")
		return label
	}
}
