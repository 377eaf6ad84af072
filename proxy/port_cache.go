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
	"bytes"
	"sort"
	"sync"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
)

// portCache maps the OpenFlow port numbers of one switch to the port names
// slices are configured with.
type portCache struct {
	sync.Mutex

	store map[uint32]portInfo
}

type portInfo struct {
	name   string
	ofport uint32
	mac    string
}

func newPortCache() *portCache {
	return &portCache{
		store: make(map[uint32]portInfo, 0),
	}
}

func portInfoFromOFP13(port *ofp13.OfpPort) portInfo {
	info := portInfo{
		name:   string(bytes.TrimRight(port.Name, "\x00")),
		ofport: port.PortNo,
	}
	if len(port.HwAddr) > 0 {
		info.mac = port.HwAddr.String()
	}

	return info
}

// Name returns the name of ofport, if the switch reported it.
func (p *portCache) Name(ofport uint32) (string, bool) {
	p.Lock()
	defer p.Unlock()

	port, exists := p.store[ofport]
	return port.name, exists
}

func (p *portCache) SetPortInfo(port *ofp13.OfpPort) portInfo {
	p.Lock()
	defer p.Unlock()

	info := portInfoFromOFP13(port)
	p.store[info.ofport] = info
	return info
}

func (p *portCache) DelPortInfo(port *ofp13.OfpPort) portInfo {
	p.Lock()
	defer p.Unlock()

	info := portInfoFromOFP13(port)
	delete(p.store, info.ofport)
	return info
}

// Update applies a PORT_STATUS message and returns the port it describes.
func (p *portCache) Update(status *ofp13.OfpPortStatus) portInfo {
	if status.Reason == ofp13.OFPPR_DELETE {
		return p.DelPortInfo(status.Desc)
	}

	return p.SetPortInfo(status.Desc)
}

// Load adds the ports listed in a PORT_DESC multipart reply.
func (p *portCache) Load(reply *ofp13.OfpMultipartReply) int {
	if reply.Type != ofp13.OFPMP_PORT_DESC {
		return 0
	}

	n := 0
	for _, body := range reply.Body {
		if port, ok := body.(*ofp13.OfpPort); ok {
			p.SetPortInfo(port)
			n++
		}
	}

	return n
}

// Names returns the known port names in sorted order.
func (p *portCache) Names() []string {
	p.Lock()
	defer p.Unlock()

	names := make([]string, 0, len(p.store))
	for _, port := range p.store {
		names = append(names, port.name)
	}
	sort.Strings(names)

	return names
}
