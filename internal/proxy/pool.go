// Package proxy provides an optional SOCKS5 proxy pool. Each configured proxy
// becomes its own http.Transport; requests pick one at random so load spreads
// across the pool and a banned exit does not stall the whole fetch.
package proxy

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
)

// Entry is a single SOCKS5 proxy definition.
type Entry struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Addr returns the host:port dial address for the proxy.
func (e Entry) Addr() string {
	return net.JoinHostPort(e.Server, fmt.Sprintf("%d", e.Port))
}

type poolFile struct {
	Proxies []Entry `yaml:"proxies"`
}

// Pool holds one transport per configured proxy. A disabled pool hands out
// the default transport, so callers never need to special-case it.
type Pool struct {
	transports []*http.Transport
	fallback   *http.Transport
	enabled    bool
	rotations  int64
	mu         sync.Mutex
	rng        *rand.Rand
	logger     *slog.Logger
}

// Load builds a pool from the YAML proxy list at path. An empty path or a
// missing file yields a disabled pool; that mirrors how an absent proxies file
// simply turns the feature off rather than failing the run.
func Load(path string, logger *slog.Logger) (*Pool, error) {
	p := &Pool{
		fallback: defaultTransport(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger,
	}

	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("proxy pool disabled, configuration file not found", "path", path)
			return p, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, fmt.Sprintf("failed to read proxy file %s", path), err)
	}

	var pf poolFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, fmt.Sprintf("failed to parse proxy file %s", path), err)
	}

	for _, entry := range pf.Proxies {
		if entry.Server == "" || entry.Port <= 0 {
			return nil, apperrors.NewConfiguration("invalid proxy entry %q: server and port are required", entry.Server)
		}
		transport, err := newSocks5Transport(entry)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfiguration, fmt.Sprintf("failed to build proxy transport for %s", entry.Addr()), err)
		}
		p.transports = append(p.transports, transport)
	}

	p.enabled = len(p.transports) > 0
	if p.enabled {
		logger.Info("proxy pool enabled", "proxies", len(p.transports))
	}
	return p, nil
}

// Enabled reports whether any proxies are configured.
func (p *Pool) Enabled() bool {
	return p.enabled
}

// Size returns the number of configured proxies.
func (p *Pool) Size() int {
	return len(p.transports)
}

// Pick returns a transport for the next request: a random proxy transport
// when the pool is enabled, the default transport otherwise.
func (p *Pool) Pick() http.RoundTripper {
	if !p.enabled {
		return p.fallback
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotations++
	return p.transports[p.rng.Intn(len(p.transports))]
}

// Rotations returns how many times a proxy transport has been handed out.
func (p *Pool) Rotations() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}

func newSocks5Transport(entry Entry) (*http.Transport, error) {
	var auth *xproxy.Auth
	if entry.Username != "" {
		auth = &xproxy.Auth{User: entry.Username, Password: entry.Password}
	}

	dialer, err := xproxy.SOCKS5("tcp", entry.Addr(), auth, xproxy.Direct)
	if err != nil {
		return nil, err
	}

	transport := defaultTransport()
	if ctxDialer, ok := dialer.(xproxy.ContextDialer); ok {
		transport.DialContext = ctxDialer.DialContext
	} else {
		transport.Dial = dialer.Dial
	}
	return transport, nil
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}
