package rabbitmq

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
)

// DefaultPort is the AMQP port used for hosts listed without one
const DefaultPort = 5672

// Endpoint is one candidate broker address
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoints parses "host" and "host:port" entries. Entries without a port
// get defaultPort.
func ParseEndpoints(hosts []string, defaultPort int) ([]Endpoint, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: at least one host is required", ErrInvalidConfiguration)
	}
	if defaultPort <= 0 {
		defaultPort = DefaultPort
	}

	endpoints := make([]Endpoint, 0, len(hosts))
	for _, raw := range hosts {
		ep, err := parseEndpoint(strings.TrimSpace(raw), defaultPort)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func parseEndpoint(raw string, defaultPort int) (Endpoint, error) {
	if raw == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host entry", ErrInvalidConfiguration)
	}

	host, portStr := raw, ""
	switch {
	case strings.HasPrefix(raw, "["):
		// bracketed IPv6, port optional
		end := strings.Index(raw, "]")
		if end < 0 {
			return Endpoint{}, fmt.Errorf("%w: malformed host %q", ErrInvalidConfiguration, raw)
		}
		host = raw[1:end]
		rest := raw[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return Endpoint{}, fmt.Errorf("%w: malformed host %q", ErrInvalidConfiguration, raw)
			}
			portStr = rest[1:]
		}
	case strings.Count(raw, ":") == 1:
		idx := strings.LastIndex(raw, ":")
		host, portStr = raw[:idx], raw[idx+1:]
	}

	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host in %q", ErrInvalidConfiguration, raw)
	}

	port := defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return Endpoint{}, fmt.Errorf("%w: invalid port in %q", ErrInvalidConfiguration, raw)
		}
		port = p
	}

	return Endpoint{Host: host, Port: port}, nil
}

// EndpointSet hands out endpoints round-robin with wraparound
type EndpointSet struct {
	mu        sync.Mutex
	endpoints []Endpoint
	next      int
}

// EndpointSetOption configures an EndpointSet
type EndpointSetOption func(*endpointSetConfig)

type endpointSetConfig struct {
	shuffle bool
	rnd     *rand.Rand
}

// WithShuffle randomizes the initial order once. A nil rnd uses the global
// source.
func WithShuffle(rnd *rand.Rand) EndpointSetOption {
	return func(cfg *endpointSetConfig) {
		cfg.shuffle = true
		cfg.rnd = rnd
	}
}

// NewEndpointSet creates a set over a copy of endpoints
func NewEndpointSet(endpoints []Endpoint, options ...EndpointSetOption) (*EndpointSet, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: endpoint set is empty", ErrInvalidConfiguration)
	}

	cfg := &endpointSetConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)

	if cfg.shuffle {
		swap := func(i, j int) { eps[i], eps[j] = eps[j], eps[i] }
		if cfg.rnd != nil {
			cfg.rnd.Shuffle(len(eps), swap)
		} else {
			rand.Shuffle(len(eps), swap)
		}
	}

	return &EndpointSet{endpoints: eps}, nil
}

// Next returns the endpoint under the cursor and advances it
func (s *EndpointSet) Next() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep := s.endpoints[s.next]
	s.next++
	if s.next >= len(s.endpoints) {
		s.next = 0
	}
	return ep
}

// Len returns the number of endpoints
func (s *EndpointSet) Len() int {
	return len(s.endpoints)
}

// Endpoints returns the endpoints in selection order
func (s *EndpointSet) Endpoints() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}
