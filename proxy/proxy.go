/*
Licensed to the Apache Software Foundation (ASF) under one
or more contributor license agreements.  See the NOTICE file
distributed with this work for additional information
regarding copyright ownership.  The ASF licenses this file
to you under the Apache License, Version 2.0 (the
"License"); you may not use this file except in compliance
with the License.  You may obtain a copy of the License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing,
software distributed under the License is distributed on an
"AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
KIND, either express or implied.  See the License for the
specific language governing permissions and limitations
under the License.
*/

package proxy

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog"

	"github.com/k-vswitch/flowspace-firewall/admission"
	"github.com/k-vswitch/flowspace-firewall/connection"
	"github.com/k-vswitch/flowspace-firewall/topology"
)

const (
	defaultRetryInterval    = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Dialer opens a connection to a slice controller.
type Dialer func(ctx context.Context, address string) (*connection.Conn, error)

type Option func(*Proxy)

func WithDialer(dial Dialer) Option {
	return func(p *Proxy) {
		p.dial = dial
	}
}

// WithRetryInterval sets how long to wait before reconnecting to a slice
// controller that could not be reached or hung up.
func WithRetryInterval(interval time.Duration) Option {
	return func(p *Proxy) {
		p.retryInterval = interval
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(p *Proxy) {
		p.handshakeTimeout = timeout
	}
}

// Proxy sits between switches and slice controllers. Every switch connection
// becomes a session holding one controller connection per slice entitled on
// that switch.
type Proxy struct {
	engine *admission.Engine

	dial             Dialer
	retryInterval    time.Duration
	handshakeTimeout time.Duration

	lock     sync.Mutex
	sessions map[*session]struct{}
}

func New(engine *admission.Engine, opts ...Option) *Proxy {
	p := &Proxy{
		engine:           engine,
		dial:             connection.Dial,
		retryInterval:    defaultRetryInterval,
		handshakeTimeout: defaultHandshakeTimeout,
		sessions:         make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Serve runs a session for every switch accepted on listener until ctx is
// cancelled.
func (p *Proxy) Serve(ctx context.Context, listener *connection.Listener) error {
	klog.Infof("accepting switch connections on %s", listener.Addr())

	return listener.Serve(ctx, func(conn *connection.Conn) {
		if err := p.HandleSwitch(ctx, conn); err != nil {
			klog.Errorf("session with switch %s ended: %v", conn.RemoteAddr(), err)
		}
	})
}

// HandleSwitch runs the session for one switch connection and returns when
// the switch disconnects or ctx is cancelled.
func (p *Proxy) HandleSwitch(ctx context.Context, conn *connection.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s := newSession(ctx, p, conn)
	if err := s.handshake(); err != nil {
		return err
	}

	p.register(s)
	defer p.unregister(s)

	s.syncUpstreams()
	defer s.closeUpstreams()

	return s.run()
}

// Reload publishes topo and reconciles the controller connections of every
// connected switch with it.
func (p *Proxy) Reload(topo *topology.Topology) {
	p.engine.Reload(topo)

	for _, s := range p.activeSessions() {
		s.syncUpstreams()
	}
}

// Switches returns the datapath ids of the connected switches.
func (p *Proxy) Switches() []uint64 {
	sessions := p.activeSessions()

	dpids := make([]uint64, 0, len(sessions))
	for _, s := range sessions {
		dpids = append(dpids, s.dpid)
	}

	return dpids
}

func (p *Proxy) register(s *session) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.sessions[s] = struct{}{}
	klog.Infof("switch %s connected from %s", topology.FormatDPID(s.dpid), s.sw.RemoteAddr())
}

func (p *Proxy) unregister(s *session) {
	p.lock.Lock()
	defer p.lock.Unlock()

	delete(p.sessions, s)
	klog.Infof("switch %s disconnected", topology.FormatDPID(s.dpid))
}

func (p *Proxy) activeSessions() []*session {
	p.lock.Lock()
	defer p.lock.Unlock()

	sessions := make([]*session, 0, len(p.sessions))
	for s := range p.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}
