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

package sanitizer

import (
	"fmt"
	"sort"

	"github.com/k-vswitch/flowspace-firewall/flows"
)

type ViolationKind int

const (
	MatchViolation ViolationKind = iota
	ActionViolation
)

func (k ViolationKind) String() string {
	if k == ActionViolation {
		return "forbidden actions"
	}

	return "forbidden match"
}

// Violation describes why a flow mod was vetoed.
type Violation struct {
	Kind    ViolationKind
	Pattern *flows.Match
	Actions flows.Actions
}

func (v *Violation) String() string {
	if v.Kind == ActionViolation {
		return fmt.Sprintf("%s: actions=%s", v.Kind, v.Actions)
	}

	return fmt.Sprintf("%s: %s", v.Kind, v.Pattern)
}

// Sanitizer holds the switch-scoped reject policy that applies to every slice.
// It is populated while a topology is built and is read-only afterwards.
type Sanitizer struct {
	matchRejects  map[uint64][]*flows.Match
	actionRejects map[uint64]flows.Actions
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		matchRejects:  make(map[uint64][]*flows.Match),
		actionRejects: make(map[uint64]flows.Actions),
	}
}

func (s *Sanitizer) MatchRejects(dpid uint64) []*flows.Match {
	return s.matchRejects[dpid]
}

func (s *Sanitizer) ActionRejects(dpid uint64) flows.Actions {
	return s.actionRejects[dpid]
}

func (s *Sanitizer) SetMatchRejects(dpid uint64, matches []*flows.Match) {
	rejects := make([]*flows.Match, 0, len(matches))
	for _, m := range matches {
		rejects = append(rejects, m.Clone())
	}
	s.matchRejects[dpid] = rejects
}

func (s *Sanitizer) AddMatchReject(dpid uint64, match *flows.Match) {
	s.matchRejects[dpid] = append(s.matchRejects[dpid], match.Clone())
}

func (s *Sanitizer) SetActionRejects(dpid uint64, actions flows.Actions) {
	s.actionRejects[dpid] = append(flows.Actions(nil), actions...)
}

// Switches returns every datapath id with a reject policy, sorted.
func (s *Sanitizer) Switches() []uint64 {
	seen := make(map[uint64]struct{})
	for dpid := range s.matchRejects {
		seen[dpid] = struct{}{}
	}
	for dpid := range s.actionRejects {
		seen[dpid] = struct{}{}
	}

	dpids := make([]uint64, 0, len(seen))
	for dpid := range seen {
		dpids = append(dpids, dpid)
	}
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	return dpids
}

// CheckFlowMod returns nil when fm may be sent to switch dpid. Only requests
// that can install or rewrite entries are checked; deletes always pass.
func (s *Sanitizer) CheckFlowMod(dpid uint64, fm *flows.FlowMod) *Violation {
	if s == nil || !fm.IsAdditive() {
		return nil
	}

	match := fm.Match
	if match == nil {
		match = flows.NewMatch()
	}

	for _, reject := range s.matchRejects[dpid] {
		if Subsumes(reject, match) {
			return &Violation{Kind: MatchViolation, Pattern: reject}
		}
	}

	rejects := s.actionRejects[dpid]
	if len(rejects) > 0 && fm.Actions.Equal(rejects) {
		return &Violation{Kind: ActionViolation, Actions: rejects}
	}

	return nil
}

// Dump renders the policy of dpid.
func (s *Sanitizer) Dump(dpid uint64) string {
	buffer := flows.NewFlowsBuffer()
	buffer.AddLine("switch 0x%016x", dpid)
	for _, m := range s.matchRejects[dpid] {
		buffer.AddFlow(m)
	}
	if rejects := s.actionRejects[dpid]; len(rejects) > 0 {
		buffer.AddLine("actions=%s", rejects)
	}

	return buffer.String()
}
