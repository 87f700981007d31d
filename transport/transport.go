// Copyright 2024-2026 Nexus HTTP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport provides a production
// [github.com/nexushttp/connpool/conn.Connector]: it dials TCP,
// optionally performs a TLS handshake with ALPN, and classifies the
// resulting connection into the pool's HTTP/1 or HTTP/2 slot. HTTP/2
// connections are backed by [golang.org/x/net/http2] and support
// cleartext prior-knowledge mode (h2c).
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexushttp/connpool/conn"
)

//nolint:gochecknoglobals
var (
	defaultDialer = &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
)

const (
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultMaxStreams          = 100
)

// Option is an option used to customize the behavior of a connector.
type Option interface {
	apply(*connector)
}

// WithDialer configures the connector to use the given function to
// establish network connections. If no WithDialer option is provided,
// a default [net.Dialer] is used that uses a 30-second dial timeout and
// configures the connection to use TCP keep-alive every 30 seconds.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return optionFunc(func(c *connector) {
		c.dialFunc = dialFunc
	})
}

// WithTLSConfig enables TLS using the given config. ALPN decides the
// protocol slot: a connection that negotiates "h2" is classified as
// HTTP/2, anything else as HTTP/1. If the config carries no NextProtos,
// "h2" and "http/1.1" are offered. The given timeout is applied to the
// handshake step; if zero, a default of 10 seconds is used.
func WithTLSConfig(config *tls.Config, handshakeTimeout time.Duration) Option {
	return optionFunc(func(c *connector) {
		c.tlsConfig = config
		c.tlsHandshakeTimeout = handshakeTimeout
	})
}

// WithH2CPriorKnowledge makes cleartext connections speak HTTP/2
// immediately, without TLS or upgrade, for backends known to support
// it.
func WithH2CPriorKnowledge() Option {
	return optionFunc(func(c *connector) {
		c.h2cPriorKnowledge = true
	})
}

// WithMaxConcurrentStreams caps the concurrency reported for new HTTP/2
// connections. The default is 100, matching the common server initial
// setting. The pool learns the true negotiated value through the
// connection's concurrency-change notifications.
func WithMaxConcurrentStreams(n int) Option {
	return optionFunc(func(c *connector) {
		c.maxStreams = n
	})
}

// WithConnectRateLimit throttles connection attempts to the given rate.
// Attempts beyond the burst wait their turn or fail when their context
// expires. By default attempts are not throttled.
func WithConnectRateLimit(limit rate.Limit, burst int) Option {
	return optionFunc(func(c *connector) {
		c.limiter = rate.NewLimiter(limit, burst)
	})
}

type optionFunc func(*connector)

func (f optionFunc) apply(c *connector) {
	f(c)
}

// NewConnector returns a connector that establishes connections to the
// given "host:port" address.
func NewConnector(addr string, options ...Option) conn.Connector {
	c := &connector{addr: addr}
	for _, opt := range options {
		opt.apply(c)
	}
	c.applyDefaults()
	return c
}

type connector struct {
	addr                string
	dialFunc            func(ctx context.Context, network, addr string) (net.Conn, error)
	tlsConfig           *tls.Config
	tlsHandshakeTimeout time.Duration
	h2cPriorKnowledge   bool
	maxStreams          int
	limiter             *rate.Limiter
}

func (c *connector) applyDefaults() {
	if c.dialFunc == nil {
		c.dialFunc = defaultDialer.DialContext
	}
	if c.tlsHandshakeTimeout == 0 {
		c.tlsHandshakeTimeout = defaultTLSHandshakeTimeout
	}
	if c.maxStreams <= 0 {
		c.maxStreams = defaultMaxStreams
	}
}

func (c *connector) Connect(ctx context.Context) (conn.ConnectResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return conn.ConnectResult{}, err
		}
	}
	netConn, err := c.dialFunc(ctx, "tcp", c.addr)
	if err != nil {
		return conn.ConnectResult{}, err
	}

	useHTTP2 := c.h2cPriorKnowledge
	if c.tlsConfig != nil {
		tlsConn, err := c.handshake(ctx, netConn)
		if err != nil {
			_ = netConn.Close()
			return conn.ConnectResult{}, err
		}
		netConn = tlsConn
		useHTTP2 = tlsConn.ConnectionState().NegotiatedProtocol == "h2"
	}

	if useHTTP2 {
		return c.newHTTP2Conn(netConn)
	}
	return conn.ConnectResult{
		Conn:        newHTTP1Conn(netConn),
		Concurrency: 1,
		Slot:        conn.SlotHTTP1,
	}, nil
}

func (c *connector) handshake(ctx context.Context, netConn net.Conn) (*tls.Conn, error) {
	config := c.tlsConfig.Clone()
	if config.ServerName == "" {
		host, _, err := net.SplitHostPort(c.addr)
		if err != nil {
			host = c.addr
		}
		config.ServerName = host
	}
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{"h2", "http/1.1"}
	}
	tlsConn := tls.Client(netConn, config)
	hsCtx, cancel := context.WithTimeout(ctx, c.tlsHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
