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

package admission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
	"golang.org/x/time/rate"
	"k8s.io/klog"

	"github.com/k-vswitch/flowspace-firewall/flows"
	"github.com/k-vswitch/flowspace-firewall/slicer"
	"github.com/k-vswitch/flowspace-firewall/topology"
)

// NoVLAN marks a request or event that is not constrained to one VLAN tag.
const NoVLAN = -1

var (
	ErrNoRoute        = errors.New("no slice is entitled to the port and vlan")
	ErrAmbiguousRoute = errors.New("more than one slice is entitled to the port and vlan")
)

// PortNamer resolves the OpenFlow port numbers of one switch to port names.
type PortNamer interface {
	Name(ofport uint32) (string, bool)
}

// Request is everything the dispatcher knows about one flow modification
// sent by a slice controller. Ports resolves the output ports of its actions.
type Request struct {
	SwitchID uint64
	Slice    string
	Port     string
	VLAN     int
	FlowMod  *flows.FlowMod
	Ports    PortNamer
}

type accountKey struct {
	dpid  uint64
	slice string
}

// account tracks the resources a slice uses on one switch. Entries are keyed
// the way the switch keys them so re-adding an installed flow is free.
type account struct {
	entries  map[flows.Key]struct{}
	flowRate int
	limiter  *rate.Limiter
}

type Option func(*Engine)

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces time.Now for the flow rate limiter.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine makes admission and routing decisions against the current topology.
// The topology is swapped as a whole on reload so every decision sees one
// consistent snapshot; only the resource accounts are shared mutable state.
type Engine struct {
	topology atomic.Pointer[topology.Topology]

	lock     sync.Mutex
	accounts map[accountKey]*account

	metrics *Metrics
	now     func() time.Time
}

func NewEngine(topo *topology.Topology, opts ...Option) *Engine {
	e := &Engine{
		accounts: make(map[accountKey]*account),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if topo == nil {
		topo = topology.NewTopology()
	}
	e.topology.Store(topo)

	return e
}

// Snapshot returns the topology decisions are currently made against.
func (e *Engine) Snapshot() *topology.Topology {
	return e.topology.Load()
}

// Reload publishes topo. Flow counts of slices that keep their entitlement on
// a switch carry over; accounts of slices that lost it are dropped.
func (e *Engine) Reload(topo *topology.Topology) {
	if topo == nil {
		topo = topology.NewTopology()
	}
	e.topology.Store(topo)

	e.lock.Lock()
	defer e.lock.Unlock()

	for key := range e.accounts {
		if _, ok := topo.Slicer(key.dpid, key.slice); !ok {
			delete(e.accounts, key)
			e.metrics.forget(topology.FormatDPID(key.dpid), key.slice)
		}
	}

	klog.Infof("admission engine reloaded with slices %v", topo.SliceNames())
}

// Admit decides whether req may be forwarded to the switch. Checks run in
// order: entitlement of the match and the actions, reject policy, then flow
// count and flow rate ceilings.
func (e *Engine) Admit(req Request) Decision {
	d := e.admit(req)
	e.metrics.observe(d)

	if !d.Accepted() {
		klog.V(2).Infof("denied flow mod from slice %q on switch %s: %s (%s)",
			req.Slice, topology.FormatDPID(req.SwitchID), d, req.FlowMod)
	}

	return d
}

func (e *Engine) admit(req Request) Decision {
	if req.FlowMod == nil {
		return deny(DenyEntitlement, "missing flow mod")
	}

	topo := e.topology.Load()
	s, ok := topo.Slicer(req.SwitchID, req.Slice)
	if !ok {
		return deny(DenyEntitlement, "slice has no entitlement on switch")
	}

	if req.Port == "" {
		return deny(DenyEntitlement, "request is not constrained to a port")
	}
	if req.VLAN == NoVLAN {
		return deny(DenyEntitlement, "request is not constrained to a vlan")
	}
	if !s.IsEntitled(req.Port, req.VLAN) {
		return deny(DenyEntitlement, fmt.Sprintf("port %s vlan %d is outside the slice", req.Port, req.VLAN))
	}
	if req.FlowMod.IsAdditive() {
		if reason, ok := checkActions(s, req); !ok {
			return deny(DenyEntitlement, reason)
		}
	}

	if v := topo.Sanitizer.CheckFlowMod(req.SwitchID, req.FlowMod); v != nil {
		return deny(DenySanitizer, v.String())
	}

	if !req.FlowMod.IsAdditive() {
		return accept()
	}

	return e.charge(req.SwitchID, s, req.FlowMod)
}

// charge enforces the ceilings of s and accounts the flow of an add that is
// not installed yet. Both ceilings are checked under one lock so concurrent
// requests cannot race past them.
func (e *Engine) charge(dpid uint64, s *slicer.Slicer, fm *flows.FlowMod) Decision {
	e.lock.Lock()
	defer e.lock.Unlock()

	acct := e.accountFor(dpid, s)

	key := fm.Key()
	_, installed := acct.entries[key]
	add := fm.Command == ofp13.OFPFC_ADD && !installed

	if s.MaxFlows() == 0 || (add && len(acct.entries) >= s.MaxFlows()) {
		return deny(DenyFlowLimit, fmt.Sprintf("slice is at its limit of %d flows", s.MaxFlows()))
	}

	if !acct.limiter.AllowN(e.now(), 1) {
		return deny(DenyFlowRate, fmt.Sprintf("slice exceeds %d flows per second", s.FlowRate()))
	}

	if !add {
		return accept()
	}

	acct.entries[key] = struct{}{}
	e.metrics.setFlows(topology.FormatDPID(dpid), s.Name(), len(acct.entries))

	return charged()
}

// accountFor must be called with the lock held.
func (e *Engine) accountFor(dpid uint64, s *slicer.Slicer) *account {
	key := accountKey{dpid: dpid, slice: s.Name()}

	acct, ok := e.accounts[key]
	if !ok {
		acct = &account{entries: make(map[flows.Key]struct{})}
		e.accounts[key] = acct
	}

	if acct.limiter == nil || acct.flowRate != s.FlowRate() {
		acct.flowRate = s.FlowRate()
		acct.limiter = rate.NewLimiter(rate.Limit(s.FlowRate()), s.FlowRate())
	}

	return acct
}

// Release returns the flow keyed key to the account of slice on switch dpid,
// for example when the switch reports it removed. Flows that were never
// charged are ignored.
func (e *Engine) Release(dpid uint64, slice string, key flows.Key) {
	e.lock.Lock()
	defer e.lock.Unlock()

	acct, ok := e.accounts[accountKey{dpid: dpid, slice: slice}]
	if !ok {
		return
	}

	if _, ok := acct.entries[key]; !ok {
		return
	}

	delete(acct.entries, key)
	e.metrics.setFlows(topology.FormatDPID(dpid), slice, len(acct.entries))
}

// Flows returns the number of flows accounted to slice on switch dpid.
func (e *Engine) Flows(dpid uint64, slice string) int {
	e.lock.Lock()
	defer e.lock.Unlock()

	if acct, ok := e.accounts[accountKey{dpid: dpid, slice: slice}]; ok {
		return len(acct.entries)
	}

	return 0
}

// Entitled reports whether slice may see traffic of vlan on port of switch
// dpid.
func (e *Engine) Entitled(dpid uint64, slice, port string, vlan int) bool {
	s, ok := e.topology.Load().Slicer(dpid, slice)
	if !ok || port == "" || vlan == NoVLAN {
		return false
	}

	return s.IsEntitled(port, vlan)
}

// Route finds the single slice entitled to vlan on port of switch dpid.
// Events matching no slice or more than one are not delivered.
func (e *Engine) Route(dpid uint64, port string, vlan int) (*slicer.Slicer, error) {
	var candidates []*slicer.Slicer
	for _, s := range e.topology.Load().SlicersFor(dpid) {
		if s.IsEntitled(port, vlan) {
			candidates = append(candidates, s)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, ErrNoRoute
	case 1:
		return candidates[0], nil
	}

	names := make([]string, 0, len(candidates))
	for _, s := range candidates {
		names = append(names, s.Name())
	}

	return nil, fmt.Errorf("%w: port %s vlan %d on switch %s: %s",
		ErrAmbiguousRoute, port, vlan, topology.FormatDPID(dpid), strings.Join(names, ","))
}
