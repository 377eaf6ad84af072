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
	"github.com/k-vswitch/flowspace-firewall/sanitizer"
	"github.com/k-vswitch/flowspace-firewall/slicer"
)

// SliceMap is the entitlement of one slice, keyed by datapath id.
type SliceMap struct {
	Name     string
	Switches map[uint64]*slicer.Slicer
}

// Topology is the result of resolving one document. It is never mutated
// after Resolve returns; a reload builds a new one.
type Topology struct {
	// Slices keeps document order.
	Slices    []SliceMap
	Switches  map[string]uint64
	Sanitizer *sanitizer.Sanitizer
}

func NewTopology() *Topology {
	return &Topology{
		Switches:  make(map[string]uint64),
		Sanitizer: sanitizer.NewSanitizer(),
	}
}

// Slicer returns the entitlement of slice on switch dpid.
func (t *Topology) Slicer(dpid uint64, slice string) (*slicer.Slicer, bool) {
	if t == nil {
		return nil, false
	}

	for _, sm := range t.Slices {
		if sm.Name != slice {
			continue
		}

		s, ok := sm.Switches[dpid]
		return s, ok
	}

	return nil, false
}

// SlicersFor returns every slice entitlement on switch dpid in document order.
func (t *Topology) SlicersFor(dpid uint64) []*slicer.Slicer {
	if t == nil {
		return nil
	}

	var slicers []*slicer.Slicer
	for _, sm := range t.Slices {
		if s, ok := sm.Switches[dpid]; ok {
			slicers = append(slicers, s)
		}
	}

	return slicers
}

func (t *Topology) SliceNames() []string {
	names := make([]string, 0, len(t.Slices))
	for _, sm := range t.Slices {
		names = append(names, sm.Name)
	}

	return names
}
