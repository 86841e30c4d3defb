package guard

import (
	"net"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/errs"
)

// metadataHosts are cloud-provider metadata endpoints that must never be
// reachable from a core component, regardless of what DNS resolves them to.
var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata.azure.internal":  true,
	"100.100.100.200":          true, // Alibaba Cloud metadata endpoint
}

// internalHostSuffixes catches Docker/Kubernetes-internal DNS names.
var internalHostSuffixes = []string{
	".svc.cluster.local",
	".cluster.local",
	".docker.internal",
	".internal",
}

var reservedProxyHosts = map[string]bool{
	"localhost":      true,
	"local":          true,
	"ip6-localhost":  true,
	"ip6-loopback":   true,
	"unix":           true,
}

// CheckURL rejects a URL per the 4.1 URL guard rules. It is called both
// before the initial request and again for every redirect hop's Location
// header.
func CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errs.WrapUser("invalid URL", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errs.NewUser("blocked URL: scheme must be http or https, got " + scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errs.NewUser("blocked URL: missing host")
	}

	if metadataHosts[host] {
		return errs.NewUser("blocked URL: cloud metadata endpoint")
	}
	if reservedProxyHosts[host] {
		return errs.NewUser("blocked URL: reserved proxy hostname")
	}
	for _, suffix := range internalHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return errs.NewUser("blocked URL: internal cluster/container hostname")
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip); err != nil {
			return err
		}
		return nil
	}

	// Host is a DNS name. Resolve it and check every returned address —
	// a name that resolves to a loopback/internal address is just as
	// dangerous as a literal IP.
	ips, lookupErr := net.LookupIP(host)
	if lookupErr != nil {
		// Unresolvable hosts are allowed through here; the eventual
		// dial will fail on its own. We only block resolvable internal
		// targets, matching the 4.1 blocklist's intent.
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() {
		return errs.NewUser("blocked URL: loopback address")
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return errs.NewUser("blocked URL: link-local address")
	}
	if ip.IsUnspecified() {
		return errs.NewUser("blocked URL: unspecified address")
	}
	if ip.Equal(net.IPv4(169, 254, 169, 254)) {
		return errs.NewUser("blocked URL: cloud metadata address")
	}
	if ip4 := ip.To4(); ip4 != nil && isRFC1918(ip4) {
		return errs.NewUser("blocked URL: private (RFC1918) address")
	}
	return nil
}

var rfc1918Blocks = []struct {
	network net.IP
	mask    net.IPMask
}{
	{net.IPv4(10, 0, 0, 0), net.CIDRMask(8, 32)},
	{net.IPv4(172, 16, 0, 0), net.CIDRMask(12, 32)},
	{net.IPv4(192, 168, 0, 0), net.CIDRMask(16, 32)},
}

func isRFC1918(ip4 net.IP) bool {
	for _, b := range rfc1918Blocks {
		if b.network.Mask(b.mask).Equal(ip4.Mask(b.mask)) {
			return true
		}
	}
	return false
}
