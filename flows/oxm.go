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
	"bytes"
	"fmt"
	"net"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
)

var fullMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// FromOXM converts an OpenFlow 1.3 match into a Match. Fields that have no
// OpenFlow 1.0 counterpart only narrow the match and are dropped. Masks that
// cannot be expressed exactly are an error so callers fail closed.
func FromOXM(oxm *ofp13.OfpMatch) (*Match, error) {
	m := NewMatch()
	if oxm == nil {
		return m, nil
	}

	for _, field := range oxm.OxmFields {
		switch f := field.(type) {
		case *ofp13.OxmInPort:
			m.WithInPort(f.Value)

		case *ofp13.OxmEth:
			if f.OxmHasMask() == 1 && !bytes.Equal(f.Mask, fullMAC) {
				return nil, fmt.Errorf("masked ethernet address %s/%s is not supported", f.Value, f.Mask)
			}
			switch f.OxmField() {
			case ofp13.OFPXMT_OFB_ETH_DST:
				m.WithDlDst(f.Value)
			case ofp13.OFPXMT_OFB_ETH_SRC:
				m.WithDlSrc(f.Value)
			}

		case *ofp13.OxmEthType:
			m.WithEtherType(f.Value)

		case *ofp13.OxmVlanVid:
			if f.OxmHasMask() == 1 && f.Mask&0x1fff != 0x1fff {
				return nil, fmt.Errorf("masked vlan id 0x%04x/0x%04x is not supported", f.Value, f.Mask)
			}
			if f.Value&ofp13.OFPVID_PRESENT == 0 {
				m.WithVlan(VlanNone)
			} else {
				m.WithVlan(f.Value & 0x0fff)
			}

		case *ofp13.OxmVlanPcp:
			m.WithVlanPcp(f.Value)

		case *ofp13.OxmIpDscp:
			m.WithNwTos(f.Value << 2)

		case *ofp13.OxmIpProto:
			m.WithNwProto(f.Value)

		case *ofp13.OxmIpv4:
			ip, prefix, err := ipv4Prefix(f.Value, f.Mask, f.OxmHasMask() == 1)
			if err != nil {
				return nil, err
			}
			switch f.OxmField() {
			case ofp13.OFPXMT_OFB_IPV4_SRC:
				m.WithNwSrc(ip, prefix)
			case ofp13.OFPXMT_OFB_IPV4_DST:
				m.WithNwDst(ip, prefix)
			}

		case *ofp13.OxmArpOp:
			m.WithNwProto(uint8(f.Value))

		case *ofp13.OxmArpPa:
			ip, prefix, err := ipv4Prefix(f.Value, f.Mask, f.OxmHasMask() == 1)
			if err != nil {
				return nil, err
			}
			switch f.OxmField() {
			case ofp13.OFPXMT_OFB_ARP_SPA:
				m.WithNwSrc(ip, prefix)
			case ofp13.OFPXMT_OFB_ARP_TPA:
				m.WithNwDst(ip, prefix)
			}

		case *ofp13.OxmTcp:
			setTransport(m, f.OxmField() == ofp13.OFPXMT_OFB_TCP_SRC, f.Value)

		case *ofp13.OxmUdp:
			setTransport(m, f.OxmField() == ofp13.OFPXMT_OFB_UDP_SRC, f.Value)

		case *ofp13.OxmSctp:
			setTransport(m, f.OxmField() == ofp13.OFPXMT_OFB_SCTP_SRC, f.Value)

		case *ofp13.OxmIcmpType:
			m.WithTpSrc(uint16(f.Value))

		case *ofp13.OxmIcmpCode:
			m.WithTpDst(uint16(f.Value))
		}
	}

	return m, nil
}

func setTransport(m *Match, src bool, port uint16) {
	if src {
		m.WithTpSrc(port)
		return
	}
	m.WithTpDst(port)
}

func ipv4Prefix(ip net.IP, mask net.IPMask, masked bool) (net.IP, int, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, 0, fmt.Errorf("invalid ipv4 address %v", ip)
	}

	if !masked {
		return v4, 32, nil
	}

	ones, bits := mask.Size()
	if bits != 32 {
		return nil, 0, fmt.Errorf("non-contiguous ipv4 mask %v is not supported", mask)
	}

	return v4.Mask(mask), ones, nil
}
