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
	"bytes"
	"encoding/binary"
	"net"

	"github.com/k-vswitch/flowspace-firewall/flows"
)

// Subsumes reports whether every packet matched by generic is also matched by
// explicit, field by field: a field explicit does not wildcard must be equal in
// generic, and the IPv4 prefixes of explicit must be no longer than those of
// generic and agree on the bits they cover.
func Subsumes(explicit, generic *flows.Match) bool {
	// L1
	if !explicit.Wildcarded(flows.WildcardInPort) {
		if explicit.InPort != generic.InPort {
			return false
		}
	}

	// L2
	if !explicit.Wildcarded(flows.WildcardDlDst) {
		if !bytes.Equal(explicit.DlDst, generic.DlDst) {
			return false
		}
	}
	if !explicit.Wildcarded(flows.WildcardDlSrc) {
		if !bytes.Equal(explicit.DlSrc, generic.DlSrc) {
			return false
		}
	}
	if !explicit.Wildcarded(flows.WildcardDlType) {
		if explicit.DlType != generic.DlType {
			return false
		}
	}
	if !explicit.Wildcarded(flows.WildcardDlVlan) {
		if explicit.DlVlan != generic.DlVlan {
			return false
		}
	}
	if !explicit.Wildcarded(flows.WildcardDlVlanPcp) {
		if explicit.DlVlanPcp != generic.DlVlanPcp {
			return false
		}
	}

	// L3
	if !prefixSubsumes(explicit.NwDst, explicit.NwDstPrefix, generic.NwDst, generic.NwDstPrefix) {
		return false
	}
	if !prefixSubsumes(explicit.NwSrc, explicit.NwSrcPrefix, generic.NwSrc, generic.NwSrcPrefix) {
		return false
	}
	if !explicit.Wildcarded(flows.WildcardNwProto) {
		if explicit.NwProto != generic.NwProto {
			return false
		}
	}
	if !explicit.Wildcarded(flows.WildcardNwTos) {
		if explicit.NwTos != generic.NwTos {
			return false
		}
	}

	// L4
	if !explicit.Wildcarded(flows.WildcardTpDst) {
		if explicit.TpDst != generic.TpDst {
			return false
		}
	}
	if !explicit.Wildcarded(flows.WildcardTpSrc) {
		if explicit.TpSrc != generic.TpSrc {
			return false
		}
	}

	return true
}

func prefixSubsumes(explicit net.IP, explicitLen int, generic net.IP, genericLen int) bool {
	if explicitLen <= 0 {
		return true
	}

	if explicitLen > genericLen {
		return false
	}

	if explicitLen > 32 {
		explicitLen = 32
	}
	mask := uint32(0xffffffff) << uint(32-explicitLen)

	return ipv4ToUint(explicit)&mask == ipv4ToUint(generic)&mask
}

func ipv4ToUint(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}

	return binary.BigEndian.Uint32(v4)
}
