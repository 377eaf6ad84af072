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

package topology

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jacoelho/xsd"
	"go.uber.org/multierr"
	"k8s.io/klog"

	"github.com/k-vswitch/flowspace-firewall/slicer"
)

// OverlapPolicy decides what happens when two slices are entitled to the
// same (port, VLAN) on one switch.
type OverlapPolicy int

const (
	// OverlapReject drops the later slice's Slicer on that switch.
	OverlapReject OverlapPolicy = iota
	// OverlapAllow keeps both and only logs.
	OverlapAllow
)

type Option func(*Resolver)

// WithSchema validates documents against schema before decoding them.
func WithSchema(schema *xsd.Schema) Option {
	return func(r *Resolver) {
		r.schema = schema
	}
}

func WithOverlapPolicy(policy OverlapPolicy) Option {
	return func(r *Resolver) {
		r.overlap = policy
	}
}

// Resolver turns a topology document into per-slice entitlements and the
// switch scoped reject policy. It holds no state between calls.
type Resolver struct {
	schema  *xsd.Schema
	overlap OverlapPolicy
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{overlap: OverlapReject}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Resolver) ResolveFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return NewTopology(), &DocumentError{Err: err}
	}
	defer f.Close()

	return r.Resolve(f)
}

// Resolve always returns a usable topology. Scoped problems are returned as
// a multierr of *ConfigError and *OverlapError next to everything that did
// resolve; a *DocumentError comes with an empty topology.
func (r *Resolver) Resolve(reader io.Reader) (*Topology, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return NewTopology(), &DocumentError{Err: fmt.Errorf("error reading document: %w", err)}
	}

	if r.schema != nil {
		if err := r.schema.Validate(bytes.NewReader(data)); err != nil {
			return NewTopology(), &DocumentError{Err: fmt.Errorf("schema validation failed: %w", err)}
		}
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return NewTopology(), &DocumentError{Err: fmt.Errorf("error decoding document: %w", err)}
	}

	return r.resolve(&doc)
}

func (r *Resolver) resolve(doc *document) (*Topology, error) {
	topo := NewTopology()
	var errs error

	for _, sw := range doc.Switches {
		dpid, err := ParseDPID(sw.DPID)
		if err != nil {
			errs = multierr.Append(errs, &ConfigError{Switch: sw.Name, Err: err})
			continue
		}

		if _, ok := topo.Switches[sw.Name]; ok {
			klog.Warningf("switch %q declared more than once, using dpid %s", sw.Name, FormatDPID(dpid))
		}
		topo.Switches[sw.Name] = dpid
	}

	seen := make(map[string]bool)
	for _, decl := range doc.Slices {
		sm := SliceMap{Name: decl.Name, Switches: make(map[uint64]*slicer.Slicer)}

		switch {
		case decl.Name == "":
			errs = multierr.Append(errs, &ConfigError{Err: fmt.Errorf("slice without a name")})
		case seen[decl.Name]:
			errs = multierr.Append(errs, &ConfigError{Slice: decl.Name, Err: fmt.Errorf("slice declared more than once")})
		default:
			seen[decl.Name] = true
			errs = multierr.Append(errs, r.resolveSlice(topo, decl, &sm))
		}

		topo.Slices = append(topo.Slices, sm)
	}

	for _, decl := range doc.Rejects {
		errs = multierr.Append(errs, resolveReject(topo, decl))
	}

	return topo, errs
}

func (r *Resolver) resolveSlice(topo *Topology, decl sliceDecl, sm *SliceMap) error {
	var errs error

	controller := slicer.DefaultController
	if n := len(decl.Controllers); n > 0 {
		c := decl.Controllers[n-1]
		endpoint, err := slicer.ParseEndpoint(c.Address, c.Port)
		if err != nil {
			// no default for a slice that asked for a controller
			return &ConfigError{Slice: decl.Name, Err: fmt.Errorf("invalid controller: %w", err)}
		}
		controller = endpoint
	}

	for _, sw := range decl.Switches {
		dpid, ok := topo.Switches[sw.Name]
		if !ok {
			klog.Warningf("slice %q references unknown switch %q, skipping", decl.Name, sw.Name)
			continue
		}

		s, err := buildSlicer(decl.Name, sw)
		if err != nil {
			errs = multierr.Append(errs, &ConfigError{Slice: decl.Name, Switch: sw.Name, Err: err})
			continue
		}

		if _, ok := sm.Switches[dpid]; ok {
			klog.Warningf("slice %q declares switch %q more than once, using the last declaration", decl.Name, sw.Name)
		}
		sm.Switches[dpid] = s
	}

	dpids := make([]uint64, 0, len(sm.Switches))
	for dpid := range sm.Switches {
		dpids = append(dpids, dpid)
	}
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	for _, dpid := range dpids {
		s := sm.Switches[dpid]
		if err := s.SetController(controller); err != nil {
			return fmt.Errorf("error setting controller for slice %q: %w", decl.Name, err)
		}

		if overlap := findOverlap(topo, decl.Name, dpid, s); overlap != nil {
			if r.overlap == OverlapReject {
				errs = multierr.Append(errs, overlap)
				delete(sm.Switches, dpid)
				continue
			}
			klog.Warningf("%v, keeping both", overlap)
		}

		s.Seal()
		klog.V(4).Infof("resolved %s on switch %s", s, FormatDPID(dpid))
	}

	return errs
}

func findOverlap(topo *Topology, slice string, dpid uint64, s *slicer.Slicer) *OverlapError {
	for _, earlier := range topo.Slices {
		other, ok := earlier.Switches[dpid]
		if !ok {
			continue
		}

		if port, ok := s.Overlaps(other); ok {
			return &OverlapError{Slice: slice, Other: earlier.Name, DPID: dpid, Port: port}
		}
	}

	return nil
}

func buildSlicer(slice string, decl sliceSwitchDecl) (*slicer.Slicer, error) {
	maxFlows, err := parseLimit("max_flows", decl.MaxFlows)
	if err != nil {
		return nil, err
	}

	flowRate, err := parseLimit("flow_rate", decl.FlowRate)
	if err != nil {
		return nil, err
	}

	s := slicer.NewSlicer(slice, maxFlows, flowRate)
	for _, port := range decl.Ports {
		if port.Name == "" {
			return nil, fmt.Errorf("port without a name")
		}

		// repeated port declarations are merged
		pc, ok := s.PortConfig(port.Name)
		if !ok {
			pc = slicer.NewPortConfig(port.Name)
		}

		for _, rg := range port.Ranges {
			start, err := strconv.Atoi(strings.TrimSpace(rg.Start))
			if err != nil {
				return nil, fmt.Errorf("port %q: invalid range start %q", port.Name, rg.Start)
			}

			end, err := strconv.Atoi(strings.TrimSpace(rg.End))
			if err != nil {
				return nil, fmt.Errorf("port %q: invalid range end %q", port.Name, rg.End)
			}

			if err := pc.VLANs.AddRange(start, end); err != nil {
				return nil, fmt.Errorf("port %q: invalid range [%d,%d): %w", port.Name, start, end, err)
			}
		}

		if err := s.SetPortConfig(pc); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func parseLimit(name, value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("missing %s", name)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}

	if limit < 0 {
		return 0, fmt.Errorf("invalid %s %d: must not be negative", name, limit)
	}

	return limit, nil
}

func resolveReject(topo *Topology, decl rejectDecl) error {
	dpid, ok := topo.Switches[decl.Switch]
	if !ok {
		return &ConfigError{Switch: decl.Switch, Err: fmt.Errorf("reject policy for unknown switch")}
	}

	var errs error
	for _, m := range decl.Matches {
		match, err := m.toMatch()
		if err != nil {
			errs = multierr.Append(errs, &ConfigError{Switch: decl.Switch, Err: err})
			continue
		}
		topo.Sanitizer.AddMatchReject(dpid, match)
	}

	if decl.Actions != nil {
		topo.Sanitizer.SetActionRejects(dpid, decl.Actions.toActions())
	}

	return errs
}
