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
	"fmt"
	"strconv"
	"strings"

	"github.com/k-vswitch/flowspace-firewall/slicer"
)

// set_field targets that cannot move a packet between slices.
var neutralFields = map[string]bool{
	"vlan_pcp": true,
	"eth_src":  true,
	"eth_dst":  true,
	"ip_src":   true,
	"ip_dst":   true,
	"tcp_src":  true,
	"tcp_dst":  true,
	"udp_src":  true,
	"udp_dst":  true,
}

// checkActions follows the actions of req in order, tracking the VLAN tag of
// the packet, and requires every port a packet leaves through to be entitled
// to the slice with the tag the packet carries at that point. Actions whose
// destination cannot be resolved to one port are refused.
func checkActions(s *slicer.Slicer, req Request) (string, bool) {
	vlan := req.VLAN

	for _, action := range req.FlowMod.Actions {
		switch action.Type {
		case "output":
			port, ok := outputPort(action.Value, req)
			if !ok {
				return fmt.Sprintf("action %s does not resolve to a port of the slice", action), false
			}
			// packets sent to the controller are routed back by entitlement
			if port == "" {
				continue
			}
			if vlan == NoVLAN {
				return fmt.Sprintf("action %s sends untagged packets out of port %s", action, port), false
			}
			if !s.IsEntitled(port, vlan) {
				return fmt.Sprintf("action %s sends vlan %d out of port %s outside the slice", action, vlan, port), false
			}

		case "push_vlan":
			// the new tag copies the outer one
			if vlan == NoVLAN {
				vlan = 0
			}

		case "pop_vlan":
			vlan = NoVLAN

		case "set_field":
			value, field, ok := strings.Cut(action.Value, "->")
			if !ok {
				return fmt.Sprintf("action %s cannot be verified", action), false
			}
			if field == "vlan_vid" {
				tag, err := strconv.Atoi(value)
				if err != nil {
					return fmt.Sprintf("action %s cannot be verified", action), false
				}
				vlan = tag
				continue
			}
			if !neutralFields[field] {
				return fmt.Sprintf("action %s cannot be verified", action), false
			}

		case "group", "experimenter", "push_pbb", "pop_pbb", "unknown":
			return fmt.Sprintf("action %s cannot be verified", action), false
		}
	}

	return "", true
}

// outputPort names the port an output action sends to. The controller port
// resolves to an empty name; flooding and other reserved ports do not
// resolve.
func outputPort(value string, req Request) (string, bool) {
	switch value {
	case "controller":
		return "", true
	case "in_port":
		return req.Port, true
	}

	ofport, err := strconv.ParseUint(value, 10, 32)
	if err != nil || req.Ports == nil {
		return "", false
	}

	name, ok := req.Ports.Name(uint32(ofport))
	if !ok || name == "" {
		return "", false
	}

	return name, true
}
