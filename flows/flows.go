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

package flows

import (
	"fmt"
	"net"
	"strings"
)

// Wildcard marks match fields that are not constrained, using the OpenFlow 1.0
// flag layout.
type Wildcard uint32

const (
	WildcardInPort Wildcard = 1 << iota
	WildcardDlVlan
	WildcardDlSrc
	WildcardDlDst
	WildcardDlType
	WildcardNwProto
	WildcardTpSrc
	WildcardTpDst
	WildcardDlVlanPcp
	WildcardNwTos

	WildcardAll = WildcardInPort | WildcardDlVlan | WildcardDlSrc | WildcardDlDst |
		WildcardDlType | WildcardNwProto | WildcardTpSrc | WildcardTpDst |
		WildcardDlVlanPcp | WildcardNwTos
)

const (
	// VlanNone is the DlVlan value matching frames without an 802.1Q tag.
	VlanNone uint16 = 0xffff
)

// Match is a flow match in OpenFlow 1.0 terms: exact-or-wildcard fields plus
// prefix matching on the IPv4 addresses. A prefix length of 0 matches every
// address.
type Match struct {
	Wildcards Wildcard

	InPort    uint32
	DlSrc     net.HardwareAddr
	DlDst     net.HardwareAddr
	DlType    uint16
	DlVlan    uint16
	DlVlanPcp uint8

	NwSrc       net.IP
	NwSrcPrefix int
	NwDst       net.IP
	NwDstPrefix int
	NwProto     uint8
	NwTos       uint8

	TpSrc uint16
	TpDst uint16
}

// NewMatch returns a match that matches every packet.
func NewMatch() *Match {
	return &Match{
		Wildcards: WildcardAll,
		NwSrc:     net.IPv4zero.To4(),
		NwDst:     net.IPv4zero.To4(),
	}
}

func (m *Match) Wildcarded(w Wildcard) bool {
	return m.Wildcards&w != 0
}

// Vlan returns the VLAN tag the match is constrained to. ok is false when the
// VLAN is wildcarded or the match is for untagged frames.
func (m *Match) Vlan() (int, bool) {
	if m.Wildcarded(WildcardDlVlan) || m.DlVlan == VlanNone {
		return 0, false
	}

	return int(m.DlVlan), true
}

func (m *Match) Clone() *Match {
	c := *m
	c.DlSrc = append(net.HardwareAddr(nil), m.DlSrc...)
	c.DlDst = append(net.HardwareAddr(nil), m.DlDst...)
	c.NwSrc = append(net.IP(nil), m.NwSrc...)
	c.NwDst = append(net.IP(nil), m.NwDst...)
	return &c
}

func (m *Match) String() string {
	var fields []string

	if !m.Wildcarded(WildcardInPort) {
		fields = append(fields, fmt.Sprintf("in_port=%d", m.InPort))
	}

	if !m.Wildcarded(WildcardDlSrc) {
		fields = append(fields, fmt.Sprintf("dl_src=%s", m.DlSrc))
	}

	if !m.Wildcarded(WildcardDlDst) {
		fields = append(fields, fmt.Sprintf("dl_dst=%s", m.DlDst))
	}

	if !m.Wildcarded(WildcardDlType) {
		fields = append(fields, fmt.Sprintf("dl_type=0x%04x", m.DlType))
	}

	if !m.Wildcarded(WildcardDlVlan) {
		if m.DlVlan == VlanNone {
			fields = append(fields, "dl_vlan=none")
		} else {
			fields = append(fields, fmt.Sprintf("dl_vlan=%d", m.DlVlan))
		}
	}

	if !m.Wildcarded(WildcardDlVlanPcp) {
		fields = append(fields, fmt.Sprintf("dl_vlan_pcp=%d", m.DlVlanPcp))
	}

	if m.NwSrcPrefix > 0 {
		fields = append(fields, fmt.Sprintf("nw_src=%s/%d", m.NwSrc, m.NwSrcPrefix))
	}

	if m.NwDstPrefix > 0 {
		fields = append(fields, fmt.Sprintf("nw_dst=%s/%d", m.NwDst, m.NwDstPrefix))
	}

	if !m.Wildcarded(WildcardNwProto) {
		fields = append(fields, fmt.Sprintf("nw_proto=%d", m.NwProto))
	}

	if !m.Wildcarded(WildcardNwTos) {
		fields = append(fields, fmt.Sprintf("nw_tos=%d", m.NwTos))
	}

	if !m.Wildcarded(WildcardTpSrc) {
		fields = append(fields, fmt.Sprintf("tp_src=%d", m.TpSrc))
	}

	if !m.Wildcarded(WildcardTpDst) {
		fields = append(fields, fmt.Sprintf("tp_dst=%d", m.TpDst))
	}

	if len(fields) == 0 {
		return "any"
	}

	return strings.Join(fields, " ")
}

// Match builders
func (m *Match) WithInPort(port uint32) *Match {
	m.InPort = port
	m.Wildcards &^= WildcardInPort
	return m
}

func (m *Match) WithDlSrc(mac net.HardwareAddr) *Match {
	m.DlSrc = mac
	m.Wildcards &^= WildcardDlSrc
	return m
}

func (m *Match) WithDlDst(mac net.HardwareAddr) *Match {
	m.DlDst = mac
	m.Wildcards &^= WildcardDlDst
	return m
}

func (m *Match) WithEtherType(etherType uint16) *Match {
	m.DlType = etherType
	m.Wildcards &^= WildcardDlType
	return m
}

func (m *Match) WithVlan(vlan uint16) *Match {
	m.DlVlan = vlan
	m.Wildcards &^= WildcardDlVlan
	return m
}

func (m *Match) WithVlanPcp(pcp uint8) *Match {
	m.DlVlanPcp = pcp
	m.Wildcards &^= WildcardDlVlanPcp
	return m
}

func (m *Match) WithNwSrc(ip net.IP, prefix int) *Match {
	m.NwSrc = ip.To4()
	m.NwSrcPrefix = prefix
	return m
}

func (m *Match) WithNwDst(ip net.IP, prefix int) *Match {
	m.NwDst = ip.To4()
	m.NwDstPrefix = prefix
	return m
}

func (m *Match) WithNwProto(proto uint8) *Match {
	m.NwProto = proto
	m.Wildcards &^= WildcardNwProto
	return m
}

func (m *Match) WithNwTos(tos uint8) *Match {
	m.NwTos = tos
	m.Wildcards &^= WildcardNwTos
	return m
}

func (m *Match) WithTpSrc(port uint16) *Match {
	m.TpSrc = port
	m.Wildcards &^= WildcardTpSrc
	return m
}

func (m *Match) WithTpDst(port uint16) *Match {
	m.TpDst = port
	m.Wildcards &^= WildcardTpDst
	return m
}

// Wildcard relaxes the given fields.
func (m *Match) Wildcard(w Wildcard) *Match {
	m.Wildcards |= w
	return m
}
