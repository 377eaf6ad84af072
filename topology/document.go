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
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/k-vswitch/flowspace-firewall/flows"
)

// document mirrors the fsf.xml layout. Attributes are kept as strings so
// numeric validation errors can be scoped to the slice and switch that carry
// them instead of failing the whole document.
type document struct {
	XMLName  xml.Name     `xml:"flowspace_firewall"`
	Switches []switchDecl `xml:"switch"`
	Slices   []sliceDecl  `xml:"slice"`
	Rejects  []rejectDecl `xml:"reject"`
}

type switchDecl struct {
	Name string `xml:"name,attr"`
	DPID string `xml:"dpid,attr"`
}

type sliceDecl struct {
	Name        string            `xml:"name,attr"`
	Controllers []controllerDecl  `xml:"controller"`
	Switches    []sliceSwitchDecl `xml:"switch"`
}

type controllerDecl struct {
	Address string `xml:"ip_address,attr"`
	Port    string `xml:"port,attr"`
}

type sliceSwitchDecl struct {
	Name     string     `xml:"name,attr"`
	MaxFlows string     `xml:"max_flows,attr"`
	FlowRate string     `xml:"flow_rate,attr"`
	Ports    []portDecl `xml:"port"`
}

type portDecl struct {
	Name   string      `xml:"name,attr"`
	Ranges []rangeDecl `xml:"range"`
}

type rangeDecl struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

type rejectDecl struct {
	Switch  string       `xml:"switch,attr"`
	Matches []matchDecl  `xml:"match"`
	Actions *actionsDecl `xml:"actions"`
}

type actionsDecl struct {
	Actions []actionDecl `xml:"action"`
}

type actionDecl struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

// matchDecl is a forbidden pattern; absent attributes are wildcarded.
type matchDecl struct {
	InPort    string `xml:"in_port,attr"`
	DlSrc     string `xml:"dl_src,attr"`
	DlDst     string `xml:"dl_dst,attr"`
	DlType    string `xml:"dl_type,attr"`
	DlVlan    string `xml:"dl_vlan,attr"`
	DlVlanPcp string `xml:"dl_vlan_pcp,attr"`
	NwSrc     string `xml:"nw_src,attr"`
	NwDst     string `xml:"nw_dst,attr"`
	NwProto   string `xml:"nw_proto,attr"`
	NwTos     string `xml:"nw_tos,attr"`
	TpSrc     string `xml:"tp_src,attr"`
	TpDst     string `xml:"tp_dst,attr"`
}

func (d actionsDecl) toActions() flows.Actions {
	actions := make(flows.Actions, 0, len(d.Actions))
	for _, a := range d.Actions {
		actions = append(actions, flows.NewAction(a.Type, a.Value))
	}

	return actions
}

func (d matchDecl) toMatch() (*flows.Match, error) {
	match := flows.NewMatch()

	if d.InPort != "" {
		port, err := parseUint("in_port", d.InPort, 32)
		if err != nil {
			return nil, err
		}
		match.WithInPort(uint32(port))
	}

	if d.DlSrc != "" {
		mac, err := net.ParseMAC(d.DlSrc)
		if err != nil {
			return nil, fmt.Errorf("invalid dl_src %q: %w", d.DlSrc, err)
		}
		match.WithDlSrc(mac)
	}

	if d.DlDst != "" {
		mac, err := net.ParseMAC(d.DlDst)
		if err != nil {
			return nil, fmt.Errorf("invalid dl_dst %q: %w", d.DlDst, err)
		}
		match.WithDlDst(mac)
	}

	if d.DlType != "" {
		etherType, err := parseUint("dl_type", d.DlType, 16)
		if err != nil {
			return nil, err
		}
		match.WithEtherType(uint16(etherType))
	}

	if d.DlVlan != "" {
		if strings.EqualFold(d.DlVlan, "none") {
			match.WithVlan(flows.VlanNone)
		} else {
			vlan, err := parseUint("dl_vlan", d.DlVlan, 12)
			if err != nil {
				return nil, err
			}
			match.WithVlan(uint16(vlan))
		}
	}

	if d.DlVlanPcp != "" {
		pcp, err := parseUint("dl_vlan_pcp", d.DlVlanPcp, 3)
		if err != nil {
			return nil, err
		}
		match.WithVlanPcp(uint8(pcp))
	}

	if d.NwSrc != "" {
		ip, prefix, err := parsePrefix("nw_src", d.NwSrc)
		if err != nil {
			return nil, err
		}
		match.WithNwSrc(ip, prefix)
	}

	if d.NwDst != "" {
		ip, prefix, err := parsePrefix("nw_dst", d.NwDst)
		if err != nil {
			return nil, err
		}
		match.WithNwDst(ip, prefix)
	}

	if d.NwProto != "" {
		proto, err := parseUint("nw_proto", d.NwProto, 8)
		if err != nil {
			return nil, err
		}
		match.WithNwProto(uint8(proto))
	}

	if d.NwTos != "" {
		tos, err := parseUint("nw_tos", d.NwTos, 8)
		if err != nil {
			return nil, err
		}
		match.WithNwTos(uint8(tos))
	}

	if d.TpSrc != "" {
		port, err := parseUint("tp_src", d.TpSrc, 16)
		if err != nil {
			return nil, err
		}
		match.WithTpSrc(uint16(port))
	}

	if d.TpDst != "" {
		port, err := parseUint("tp_dst", d.TpDst, 16)
		if err != nil {
			return nil, err
		}
		match.WithTpDst(uint16(port))
	}

	return match, nil
}

// parseUint accepts decimal or 0x-prefixed hex.
func parseUint(field, value string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(value), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}

	return v, nil
}

// parsePrefix accepts an IPv4 address or an IPv4 CIDR. A bare address is a
// /32.
func parsePrefix(field, value string) (net.IP, int, error) {
	if !strings.Contains(value, "/") {
		ip := net.ParseIP(value).To4()
		if ip == nil {
			return nil, 0, fmt.Errorf("invalid %s %q: not an IPv4 address", field, value)
		}
		return ip, 32, nil
	}

	ip, ipNet, err := net.ParseCIDR(value)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}

	if ip.To4() == nil {
		return nil, 0, fmt.Errorf("invalid %s %q: not an IPv4 prefix", field, value)
	}

	prefix, _ := ipNet.Mask.Size()
	return ipNet.IP.To4(), prefix, nil
}
