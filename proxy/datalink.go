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

package proxy

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/k-vswitch/flowspace-firewall/admission"
)

// frameVLAN returns the outer 802.1Q tag of an ethernet frame, or
// admission.NoVLAN for untagged or undecodable frames.
func frameVLAN(frame []byte) int {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	layer := packet.Layer(layers.LayerTypeDot1Q)
	if layer == nil {
		return admission.NoVLAN
	}

	dot1q, ok := layer.(*layers.Dot1Q)
	if !ok {
		return admission.NoVLAN
	}

	return int(dot1q.VLANIdentifier)
}
