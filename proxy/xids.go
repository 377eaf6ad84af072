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
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/k-vswitch/flowspace-firewall/flows"
)

// maxPendingXids bounds how many forwarded requests are remembered. Flow mods
// that succeed get no reply, so the least recently used entries are evicted.
const maxPendingXids = 1 << 14

// pending is a request forwarded to the switch on behalf of a slice.
type pending struct {
	slice string
	xid   uint32
	// flow is set for flow adds that were charged to the slice before the
	// switch confirmed them.
	flow    flows.Key
	charged bool
}

// xidTable translates between the transaction ids slice controllers pick and
// the ids the proxy uses towards the switch, so replies reach the slice that
// sent the request.
type xidTable struct {
	lock sync.Mutex

	next    uint32
	entries *simplelru.LRU
}

func newXidTable() *xidTable {
	entries, err := simplelru.NewLRU(maxPendingXids, nil)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}

	return &xidTable{
		next:    1,
		entries: entries,
	}
}

// Allocate returns a fresh switch-side id that is not tracked.
func (x *xidTable) Allocate() uint32 {
	x.lock.Lock()
	defer x.lock.Unlock()

	return x.allocate()
}

func (x *xidTable) allocate() uint32 {
	xid := x.next
	x.next++
	if x.next == 0 {
		x.next = 1
	}

	return xid
}

// Track allocates a switch-side id for p.
func (x *xidTable) Track(p pending) uint32 {
	x.lock.Lock()
	defer x.lock.Unlock()

	xid := x.allocate()
	x.entries.Add(xid, p)

	return xid
}

// Lookup returns the request behind xid. The entry is forgotten unless more
// replies are expected.
func (x *xidTable) Lookup(xid uint32, more bool) (pending, bool) {
	x.lock.Lock()
	defer x.lock.Unlock()

	value, ok := x.entries.Get(xid)
	if !ok {
		return pending{}, false
	}

	if !more {
		x.entries.Remove(xid)
	}

	return value.(pending), true
}

func (x *xidTable) Len() int {
	x.lock.Lock()
	defer x.lock.Unlock()

	return x.entries.Len()
}
