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
	"net"
	"testing"
)

func Test_AddFlow(t *testing.T) {
	matches := []*Match{
		NewMatch().WithEtherType(0x0806),
		NewMatch().WithInPort(1).WithVlan(100),
		NewMatch().WithEtherType(0x0800).WithNwDst(net.ParseIP("10.0.0.0"), 8),
	}

	expectedBufferString := `switch 0x1
dl_type=0x0806
in_port=1 dl_vlan=100
dl_type=0x0800 nw_dst=10.0.0.0/8
actions=output:controller,output:2
`

	flowsBuffer := NewFlowsBuffer()
	flowsBuffer.AddLine("switch 0x%x", 1)
	for _, match := range matches {
		flowsBuffer.AddFlow(match)
	}
	flowsBuffer.AddLine("actions=%s", Actions{NewAction("output", "controller"), NewAction("output", "2")})

	actualBufferString := flowsBuffer.String()
	if actualBufferString != expectedBufferString {
		t.Logf("actual buffer string: %q", actualBufferString)
		t.Logf("expected buffer string: %q", expectedBufferString)
		t.Errorf("unexpected buffer string")
	}

	flowsBuffer.Reset()
	if flowsBuffer.String() != "" {
		t.Errorf("expected empty buffer after reset")
	}
}
