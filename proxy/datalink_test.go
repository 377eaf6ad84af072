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
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-vswitch/flowspace-firewall/admission"
)

var testMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

func arpRequest() *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   testMAC,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
}

// newFrame builds an ARP request, tagged with vlan unless it is
// admission.NoVLAN.
func newFrame(t *testing.T, vlan int) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       testMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}

	serializable := []gopacket.SerializableLayer{eth}
	if vlan != admission.NoVLAN {
		eth.EthernetType = layers.EthernetTypeDot1Q
		serializable = append(serializable, &layers.Dot1Q{
			VLANIdentifier: uint16(vlan),
			Type:           layers.EthernetTypeARP,
		})
	}
	serializable = append(serializable, arpRequest())

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, serializable...)
	require.NoError(t, err)

	return buf.Bytes()
}

func Test_FrameVLAN(t *testing.T) {
	testcases := []struct {
		name string
		vlan int
	}{
		{name: "untagged", vlan: admission.NoVLAN},
		{name: "vlan 0", vlan: 0},
		{name: "vlan 150", vlan: 150},
		{name: "vlan 4095", vlan: 4095},
	}

	for _, testcase := range testcases {
		t.Run(testcase.name, func(t *testing.T) {
			assert.Equal(t, testcase.vlan, frameVLAN(newFrame(t, testcase.vlan)))
		})
	}
}

func Test_FrameVLANTruncated(t *testing.T) {
	assert.Equal(t, admission.NoVLAN, frameVLAN(nil))
	assert.Equal(t, admission.NoVLAN, frameVLAN([]byte{0xff, 0xff}))

	// the tag survives a frame cut short by miss_send_len
	frame := newFrame(t, 300)
	assert.Equal(t, 300, frameVLAN(frame[:18]))
}
