// Package cluster describes the identity a node advertises to its peers.
package cluster

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Identity is the address a node is reachable at for forwarded requests,
// plus whether it may be elected leader. It is serialized into the election
// group metadata so every member learns the leader's address.
type Identity struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Scheme            string `json:"scheme"`
	LeaderEligibility bool   `json:"leader_eligibility"`
}

// URL returns the base URL of the node's REST listener.
func (i *Identity) URL() string {
	return fmt.Sprintf("%s://%s:%d", i.Scheme, i.Host, i.Port)
}

func (i *Identity) String() string {
	return fmt.Sprintf("%s (eligible=%t)", i.URL(), i.LeaderEligibility)
}

// Equal compares the addressable part of two identities. Eligibility is not
// part of a node's address.
func (i *Identity) Equal(o *Identity) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.Host == o.Host && i.Port == o.Port && i.Scheme == o.Scheme
}

// IdentityFromListeners derives the inter-instance identity from the
// configured listeners. A listener is "scheme://host:port"; a named listener
// uses its name in place of the scheme and takes its protocol from
// interInstanceProtocol. Selection order: the first listener whose name
// matches interInstanceListener, else the last listener whose scheme matches
// interInstanceProtocol. Hosts that bind all interfaces fall back to
// hostName.
func IdentityFromListeners(listeners []string, interInstanceListener, interInstanceProtocol, hostName string, eligible bool) (*Identity, error) {
	if interInstanceProtocol == "" {
		interInstanceProtocol = "http"
	}

	var chosen *url.URL
	for _, raw := range listeners {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid listener %q: %w", raw, err)
		}
		if interInstanceListener != "" && strings.EqualFold(u.Scheme, interInstanceListener) {
			chosen = u
			break
		}
		if strings.EqualFold(u.Scheme, interInstanceProtocol) {
			chosen = u
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("no listener matches inter-instance listener %q or protocol %q",
			interInstanceListener, interInstanceProtocol)
	}

	port, err := strconv.Atoi(chosen.Port())
	if err != nil {
		return nil, fmt.Errorf("listener %q has no usable port", chosen)
	}

	host := chosen.Hostname()
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = hostName
	}
	if host == "" {
		return nil, fmt.Errorf("listener %q binds all interfaces and no host.name is set", chosen)
	}

	scheme := strings.ToLower(chosen.Scheme)
	if interInstanceListener != "" && strings.EqualFold(chosen.Scheme, interInstanceListener) {
		scheme = strings.ToLower(interInstanceProtocol)
	}

	return &Identity{Host: host, Port: port, Scheme: scheme, LeaderEligibility: eligible}, nil
}
