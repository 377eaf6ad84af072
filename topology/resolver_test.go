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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/k-vswitch/flowspace-firewall/flows"
	"github.com/k-vswitch/flowspace-firewall/slicer"
)

const tenantADoc = `<?xml version="1.0"?>
<flowspace_firewall>
  <switch name="sw1" dpid="00:00:00:00:00:00:00:01"/>
  <slice name="tenantA">
    <controller ip_address="10.0.0.5" port="6634"/>
    <switch name="sw1" max_flows="100" flow_rate="10">
      <port name="eth1">
        <range start="100" end="200"/>
      </port>
    </switch>
  </slice>
</flowspace_firewall>`

func resolve(t *testing.T, doc string, opts ...Option) (*Topology, error) {
	t.Helper()
	topo, err := NewResolver(opts...).Resolve(strings.NewReader(doc))
	require.NotNil(t, topo)
	return topo, err
}

func Test_ResolveEndToEnd(t *testing.T) {
	topo, err := resolve(t, tenantADoc)
	require.NoError(t, err)

	require.Len(t, topo.Slices, 1)
	sm := topo.Slices[0]
	assert.Equal(t, "tenantA", sm.Name)
	require.Len(t, sm.Switches, 1)

	s, ok := sm.Switches[0x1]
	require.True(t, ok)
	assert.Equal(t, slicer.Endpoint{Host: "10.0.0.5", Port: 6634}, s.Controller())
	assert.Equal(t, 100, s.MaxFlows())
	assert.Equal(t, 10, s.FlowRate())
	assert.True(t, s.IsEntitled("eth1", 150))
	assert.False(t, s.IsEntitled("eth1", 99))
	assert.False(t, s.IsEntitled("eth1", 200))
	assert.False(t, s.IsEntitled("eth2", 150))
	assert.True(t, s.Sealed())

	byName, ok := topo.Slicer(0x1, "tenantA")
	require.True(t, ok)
	assert.Same(t, s, byName)
}

func Test_ResolveUnknownSwitchSkipped(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA">
    <switch name="missing" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="1" end="10"/></port>
    </switch>
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="1" end="10"/></port>
    </switch>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.NoError(t, err)
	require.Len(t, topo.Slices, 1)
	require.Len(t, topo.Slices[0].Switches, 1)
	assert.Contains(t, topo.Slices[0].Switches, uint64(1))
}

func Test_ResolveControllerPropagation(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <switch name="sw2" dpid="2"/>
  <switch name="sw3" dpid="3"/>
  <slice name="tenantA">
    <switch name="sw1" max_flows="10" flow_rate="1"/>
    <switch name="sw2" max_flows="10" flow_rate="1"/>
    <controller ip_address="192.0.2.1" port="7000"/>
    <switch name="sw3" max_flows="10" flow_rate="1"/>
  </slice>
  <slice name="tenantB">
    <switch name="sw1" max_flows="10" flow_rate="1"/>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.NoError(t, err)
	require.Len(t, topo.Slices, 2)

	expected := slicer.Endpoint{Host: "192.0.2.1", Port: 7000}
	require.Len(t, topo.Slices[0].Switches, 3)
	for dpid, s := range topo.Slices[0].Switches {
		assert.Equal(t, expected, s.Controller(), "switch %d", dpid)
	}

	s, ok := topo.Slicer(1, "tenantB")
	require.True(t, ok)
	assert.Equal(t, slicer.DefaultController, s.Controller())
}

func Test_ResolveLastControllerWins(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA">
    <controller ip_address="192.0.2.1" port="7000"/>
    <switch name="sw1" max_flows="10" flow_rate="1"/>
    <controller ip_address="192.0.2.2" port="7001"/>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.NoError(t, err)

	s, ok := topo.Slicer(1, "tenantA")
	require.True(t, ok)
	assert.Equal(t, "192.0.2.2:7001", s.Controller().String())
}

func Test_ResolveScopedErrors(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <switch name="sw2" dpid="2"/>
  <switch name="bad" dpid="not-a-dpid"/>
  <slice name="tenantA">
    <switch name="sw1" max_flows="lots" flow_rate="1"/>
    <switch name="sw2" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="1" end="10"/></port>
    </switch>
  </slice>
  <slice name="tenantB">
    <switch name="sw1" flow_rate="1"/>
  </slice>
  <slice name="tenantC">
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth9"><range start="10" end="5000"/></port>
    </switch>
  </slice>
  <slice name="tenantD">
    <controller ip_address="192.0.2.1" port="http"/>
    <switch name="sw2" max_flows="10" flow_rate="1"/>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	errs := multierr.Errors(err)
	require.Len(t, errs, 5)
	for _, e := range errs {
		var configErr *ConfigError
		assert.ErrorAs(t, e, &configErr)
	}

	assert.NotContains(t, topo.Switches, "bad")
	require.Len(t, topo.Slices, 4)

	_, ok := topo.Slicer(1, "tenantA")
	assert.False(t, ok, "invalid max_flows must not construct a slicer")
	_, ok = topo.Slicer(2, "tenantA")
	assert.True(t, ok, "the slice keeps its valid switches")

	assert.Empty(t, topo.Slices[1].Switches)
	assert.Empty(t, topo.Slices[2].Switches)
	assert.Empty(t, topo.Slices[3].Switches, "a broken controller drops the whole slice")
}

func Test_ResolveRangeUnion(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA">
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth1">
        <range start="10" end="20"/>
        <range start="15" end="30"/>
      </port>
      <port name="eth1">
        <range start="40" end="41"/>
      </port>
    </switch>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.NoError(t, err)

	s, ok := topo.Slicer(1, "tenantA")
	require.True(t, ok)
	pc, ok := s.PortConfig("eth1")
	require.True(t, ok)
	assert.Equal(t, "10-29,40", pc.VLANs.String())
	assert.Equal(t, 21, pc.VLANs.Count())
}

const overlapDoc = `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <switch name="sw2" dpid="2"/>
  <slice name="tenantA">
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="100" end="200"/></port>
    </switch>
  </slice>
  <slice name="tenantB">
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="150" end="250"/></port>
    </switch>
    <switch name="sw2" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="150" end="250"/></port>
    </switch>
  </slice>
  <slice name="tenantC">
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="200" end="300"/></port>
    </switch>
  </slice>
</flowspace_firewall>`

func Test_ResolveOverlapReject(t *testing.T) {
	topo, err := resolve(t, overlapDoc)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)

	var overlap *OverlapError
	require.ErrorAs(t, errs[0], &overlap)
	assert.Equal(t, "tenantB", overlap.Slice)
	assert.Equal(t, "tenantA", overlap.Other)
	assert.Equal(t, uint64(1), overlap.DPID)
	assert.Equal(t, "eth1", overlap.Port)

	_, ok := topo.Slicer(1, "tenantB")
	assert.False(t, ok)
	_, ok = topo.Slicer(2, "tenantB")
	assert.True(t, ok)
	_, ok = topo.Slicer(1, "tenantC")
	assert.True(t, ok, "a dropped slicer does not block later slices")
	assert.Len(t, topo.SlicersFor(1), 2)
}

func Test_ResolveOverlapAllow(t *testing.T) {
	topo, err := resolve(t, overlapDoc, WithOverlapPolicy(OverlapAllow))
	require.NoError(t, err)

	_, ok := topo.Slicer(1, "tenantB")
	assert.True(t, ok)
	assert.Len(t, topo.SlicersFor(1), 3)
}

func Test_ResolveDuplicateSliceName(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA">
    <switch name="sw1" max_flows="10" flow_rate="1"/>
  </slice>
  <slice name="tenantA">
    <switch name="sw1" max_flows="20" flow_rate="1"/>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.Error(t, err)
	require.Len(t, topo.Slices, 2, "every slice declaration yields a map")
	assert.Empty(t, topo.Slices[1].Switches)

	s, ok := topo.Slicer(1, "tenantA")
	require.True(t, ok)
	assert.Equal(t, 10, s.MaxFlows())
}

func Test_ResolveRejectPolicy(t *testing.T) {
	doc := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <reject switch="sw1">
    <match dl_type="0x0806"/>
    <match dl_type="0x0800" nw_proto="6" nw_dst="10.0.0.0/8" tp_dst="22"/>
    <match dl_vlan="none" in_port="7"/>
    <match nw_src="not-an-ip"/>
    <actions>
      <action type="output" value="flood"/>
    </actions>
  </reject>
  <reject switch="sw9">
    <match dl_type="0x88cc"/>
  </reject>
</flowspace_firewall>`

	topo, err := resolve(t, doc)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	rejects := topo.Sanitizer.MatchRejects(1)
	require.Len(t, rejects, 3)
	assert.Equal(t, "dl_type=0x0806", rejects[0].String())
	assert.Equal(t, "dl_type=0x0800 nw_dst=10.0.0.0/8 nw_proto=6 tp_dst=22", rejects[1].String())
	assert.Equal(t, "in_port=7 dl_vlan=none", rejects[2].String())
	assert.Equal(t, "output:flood", topo.Sanitizer.ActionRejects(1).String())

	arp := &flows.FlowMod{
		Command: ofp13.OFPFC_ADD,
		Match:   flows.NewMatch().WithEtherType(0x0806).WithInPort(3),
	}
	assert.NotNil(t, topo.Sanitizer.CheckFlowMod(1, arp))

	ip := &flows.FlowMod{
		Command: ofp13.OFPFC_ADD,
		Match:   flows.NewMatch().WithEtherType(0x0800),
	}
	assert.Nil(t, topo.Sanitizer.CheckFlowMod(1, ip))
}

func Test_ResolveDocumentErrors(t *testing.T) {
	topo, err := resolve(t, `<flowspace_firewall><switch name="sw1"`)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Empty(t, topo.Slices)

	topo, err = resolve(t, `<something_else/>`)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Empty(t, topo.Slices)

	topo, err = NewResolver().ResolveFile(filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.NotNil(t, topo)
}

func Test_ResolveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsf.xml")
	require.NoError(t, os.WriteFile(path, []byte(tenantADoc), 0644))

	topo, err := NewResolver().ResolveFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenantA"}, topo.SliceNames())
	assert.Equal(t, map[string]uint64{"sw1": 1}, topo.Switches)
}

func Test_ResolveWithSchema(t *testing.T) {
	schema, err := DefaultSchema()
	require.NoError(t, err)

	_, err = resolve(t, tenantADoc, WithSchema(schema))
	require.NoError(t, err)

	missingLimit := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA">
    <switch name="sw1" flow_rate="1"/>
  </slice>
</flowspace_firewall>`

	// a missing limit only invalidates the switch it is declared on
	for _, opts := range [][]Option{{WithSchema(schema)}, nil} {
		topo, err := resolve(t, missingLimit, opts...)
		require.Error(t, err)
		assert.False(t, IsFatal(err))

		var configErr *ConfigError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, "tenantA", configErr.Slice)
		assert.Len(t, topo.Slices, 1)
	}

	badValues := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA">
    <controller ip_address="192.0.2.1" port="http"/>
    <switch name="sw1" max_flows="10" flow_rate="1"/>
  </slice>
  <slice name="tenantB">
    <switch name="sw1" max_flows="lots" flow_rate="1"/>
  </slice>
  <slice name="tenantC">
    <switch name="sw1" max_flows="10" flow_rate="1">
      <port name="eth1"><range start="10" end="5000"/></port>
    </switch>
  </slice>
</flowspace_firewall>`

	topo, err := resolve(t, badValues, WithSchema(schema))
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Len(t, multierr.Errors(err), 3)
	assert.Len(t, topo.Slices, 3)

	// the layout itself is still enforced
	unknownElement := `<flowspace_firewall>
  <switch name="sw1" dpid="1"/>
  <slice name="tenantA"><bogus/></slice>
</flowspace_firewall>`

	topo, err = resolve(t, unknownElement, WithSchema(schema))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Empty(t, topo.Slices)
}
