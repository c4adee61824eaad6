// Package address derives the device agent's base URL for a device.
package address

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/devicelab-dev/device-agent/pkg/core"
)

// DefaultPort is the port the agent listens on.
const DefaultPort = 27753

// LoopbackHost is where simulator agents are reachable.
const LoopbackHost = "127.0.0.1"

var nonHostChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Resolver picks the agent URL. Sources are tried in order: an explicit
// override, the loopback address for simulators, a companion endpoint, and
// finally a hostname derived from the device name.
type Resolver struct {
	Override     string // Explicit base URL, wins over everything
	CompanionURL string // Known endpoint for a physical device (e.g. a tunnel)
	Port         int    // Agent port, DefaultPort when zero
}

// Resolve returns the base URL with a trailing slash.
func (r Resolver) Resolve(device core.Device) (string, error) {
	if r.Override != "" {
		return normalize(r.Override)
	}

	port := r.Port
	if port == 0 {
		port = DefaultPort
	}

	if device.Simulator {
		return fmt.Sprintf("http://%s:%d/", LoopbackHost, port), nil
	}

	if r.CompanionURL != "" {
		return normalize(r.CompanionURL)
	}

	host := HostnameFor(device.Name)
	if host == "" {
		return "", core.ErrInvalidArgument.WithMessagef(
			"cannot derive agent address for %s: device has no name; set an explicit agent URL", device)
	}
	return fmt.Sprintf("http://%s:%d/", host, port), nil
}

// HostnameFor turns a device name into its Bonjour hostname,
// e.g. "Joshua's iPhone" becomes "Joshuas-iPhone.local".
func HostnameFor(name string) string {
	name = strings.ReplaceAll(name, "'", "")
	name = strings.ReplaceAll(name, "’", "")
	name = strings.Trim(nonHostChars.ReplaceAllString(name, "-"), "-")
	if name == "" {
		return ""
	}
	return name + ".local"
}

func normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", core.ErrInvalidArgument.WithMessagef("invalid agent URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", core.ErrInvalidArgument.WithMessagef("unsupported agent URL scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}
