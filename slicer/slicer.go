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

package slicer

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// Endpoint is the TCP address of a slice controller.
type Endpoint struct {
	Host string
	Port int
}

// DefaultController is used for slices that declare no controller.
var DefaultController = Endpoint{Host: "0.0.0.0", Port: 6633}

func ParseEndpoint(host, port string) (Endpoint, error) {
	if host == "" {
		return Endpoint{}, fmt.Errorf("controller address is empty")
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid controller port %q: %v", port, err)
	}

	if p <= 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("controller port %d out of range", p)
	}

	return Endpoint{Host: host, Port: p}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PortConfig binds a switch port name to the VLANs a slice may use on it.
type PortConfig struct {
	Name  string
	VLANs *VLANRange
}

func NewPortConfig(name string) *PortConfig {
	return &PortConfig{
		Name:  name,
		VLANs: NewVLANRange(),
	}
}

// Slicer is the entitlement of one slice on one switch. Slicers are built by
// the topology resolver and sealed before they are handed to the admission
// path; a sealed Slicer rejects every mutation.
type Slicer struct {
	name       string
	controller Endpoint

	maxFlows int
	flowRate int

	ports  map[string]*PortConfig
	sealed bool
}

func NewSlicer(name string, maxFlows, flowRate int) *Slicer {
	return &Slicer{
		name:       name,
		controller: DefaultController,
		maxFlows:   maxFlows,
		flowRate:   flowRate,
		ports:      make(map[string]*PortConfig),
	}
}

func (s *Slicer) Name() string {
	return s.name
}

// MaxFlows is the ceiling on concurrent flow entries for the slice.
func (s *Slicer) MaxFlows() int {
	return s.maxFlows
}

// FlowRate is the ceiling on flow installs per second for the slice.
func (s *Slicer) FlowRate() int {
	return s.flowRate
}

func (s *Slicer) Controller() Endpoint {
	return s.controller
}

func (s *Slicer) SetController(controller Endpoint) error {
	if s.sealed {
		return ErrSealed
	}

	s.controller = controller
	return nil
}

// SetPortConfig replaces the configuration of pc.Name.
func (s *Slicer) SetPortConfig(pc *PortConfig) error {
	if s.sealed {
		return ErrSealed
	}

	s.ports[pc.Name] = pc
	return nil
}

func (s *Slicer) PortConfig(name string) (*PortConfig, bool) {
	pc, ok := s.ports[name]
	return pc, ok
}

func (s *Slicer) HasPort(name string) bool {
	_, ok := s.ports[name]
	return ok
}

// Ports returns the configured port names in sorted order.
func (s *Slicer) Ports() []string {
	names := make([]string, 0, len(s.ports))
	for name := range s.ports {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// IsEntitled reports whether the slice may use vlan on port. Ports that are
// not configured are denied.
func (s *Slicer) IsEntitled(port string, vlan int) bool {
	if s == nil {
		return false
	}

	pc, ok := s.ports[port]
	if !ok {
		return false
	}

	return pc.VLANs.IsAvailable(vlan)
}

// Overlaps returns the first port on which s and other share a VLAN.
func (s *Slicer) Overlaps(other *Slicer) (string, bool) {
	for _, name := range s.Ports() {
		theirs, ok := other.ports[name]
		if !ok {
			continue
		}

		if s.ports[name].VLANs.Intersects(theirs.VLANs) {
			return name, true
		}
	}

	return "", false
}

// Seal freezes the slicer and its port ranges.
func (s *Slicer) Seal() {
	s.sealed = true
	for _, pc := range s.ports {
		pc.VLANs.seal()
	}
}

func (s *Slicer) Sealed() bool {
	return s.sealed
}

func (s *Slicer) String() string {
	return fmt.Sprintf("slice=%s controller=%s max_flows=%d flow_rate=%d ports=%d",
		s.name, s.controller, s.maxFlows, s.flowRate, len(s.ports))
}
