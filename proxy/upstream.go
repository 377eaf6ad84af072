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
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
	"k8s.io/klog"

	"github.com/k-vswitch/flowspace-firewall/admission"
	"github.com/k-vswitch/flowspace-firewall/connection"
	"github.com/k-vswitch/flowspace-firewall/flows"
	"github.com/k-vswitch/flowspace-firewall/slicer"
	"github.com/k-vswitch/flowspace-firewall/topology"
)

// upstream is the connection of one slice to its controller on behalf of one
// switch.
type upstream struct {
	slice      string
	controller slicer.Endpoint
	cancel     context.CancelFunc

	lock sync.Mutex
	conn *connection.Conn
}

func (u *upstream) setConn(conn *connection.Conn) {
	u.lock.Lock()
	defer u.lock.Unlock()

	u.conn = conn
}

// send drops msg while the controller is not connected.
func (u *upstream) send(msg []byte) {
	u.lock.Lock()
	conn := u.conn
	u.lock.Unlock()

	if conn == nil {
		klog.V(4).Infof("slice %q has no controller connection, dropping message type %d",
			u.slice, connection.MessageType(msg))
		return
	}

	conn.Send(msg)
}

// syncUpstreams starts a controller connection for every slice entitled on
// the switch and stops the ones of slices that lost their entitlement or
// moved to another controller.
func (s *session) syncUpstreams() {
	wanted := make(map[string]slicer.Endpoint)
	for _, sl := range s.engine.Snapshot().SlicersFor(s.dpid) {
		wanted[sl.Name()] = sl.Controller()
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return
	}

	for name, up := range s.upstreams {
		if controller, ok := wanted[name]; ok && controller == up.controller {
			continue
		}

		klog.Infof("stopping controller connection of slice %q on switch %s", name, topology.FormatDPID(s.dpid))
		up.cancel()
		delete(s.upstreams, name)
	}

	for name, controller := range wanted {
		if _, ok := s.upstreams[name]; ok {
			continue
		}

		ctx, cancel := context.WithCancel(s.ctx)
		up := &upstream{slice: name, controller: controller, cancel: cancel}
		s.upstreams[name] = up

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.maintain(ctx, up)
		}()
	}
}

// closeUpstreams stops every controller connection and waits for them.
func (s *session) closeUpstreams() {
	s.lock.Lock()
	s.closed = true
	for name, up := range s.upstreams {
		up.cancel()
		delete(s.upstreams, name)
	}
	s.lock.Unlock()

	s.wg.Wait()
}

// maintain keeps up connected to its controller until ctx is cancelled.
func (s *session) maintain(ctx context.Context, up *upstream) {
	for {
		conn, err := s.proxy.dial(ctx, up.controller.String())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			klog.Errorf("error connecting slice %q to controller %s: %v", up.slice, up.controller, err)
		} else {
			klog.Infof("slice %q on switch %s connected to controller %s",
				up.slice, topology.FormatDPID(s.dpid), up.controller)

			up.setConn(conn)
			s.serveUpstream(ctx, up, conn)
			up.setConn(nil)
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.proxy.retryInterval):
		}
	}
}

func (s *session) serveUpstream(ctx context.Context, up *upstream, conn *connection.Conn) {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := conn.Send(connection.NewHeaderMessage(ofp13.OFPT_HELLO, s.xids.Allocate())); err != nil {
		return
	}

	for {
		msg, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				klog.Errorf("error reading from controller %s of slice %q: %v", up.controller, up.slice, err)
			}
			return
		}

		s.handleControllerMessage(up, conn, msg)
	}
}

func (s *session) handleControllerMessage(up *upstream, conn *connection.Conn, msg []byte) {
	switch connection.MessageType(msg) {
	case ofp13.OFPT_HELLO, ofp13.OFPT_ECHO_REPLY:
	case ofp13.OFPT_ECHO_REQUEST:
		echo(conn, msg)

	case ofp13.OFPT_FEATURES_REQUEST:
		reply := append([]byte(nil), s.features...)
		connection.SetXid(reply, connection.MessageXid(msg))
		conn.Send(reply)

	case ofp13.OFPT_FLOW_MOD:
		s.handleFlowMod(up, conn, msg)

	case ofp13.OFPT_MULTIPART_REQUEST:
		s.handleMultipartRequest(up, conn, msg)

	case ofp13.OFPT_BARRIER_REQUEST:
		s.forward(pending{slice: up.slice, xid: connection.MessageXid(msg)}, msg)

	default:
		klog.V(2).Infof("refusing message type %d from slice %q", connection.MessageType(msg), up.slice)
		conn.Send(connection.NewErrorMessage(connection.MessageXid(msg), ofp13.OFPET_BAD_REQUEST, ofp13.OFPBRC_EPERM, msg))
	}
}

// handleMultipartRequest forwards a statistics request of up's slice. Flow
// stats replies are filtered on the way back; aggregate stats sum over every
// slice's flows and are refused.
func (s *session) handleMultipartRequest(up *upstream, conn *connection.Conn, msg []byte) {
	xid := connection.MessageXid(msg)

	if len(msg) < multipartHeaderLen {
		conn.Send(connection.NewErrorMessage(xid, ofp13.OFPET_BAD_REQUEST, ofp13.OFPBRC_BAD_LEN, msg))
		return
	}

	if binary.BigEndian.Uint16(msg[multipartTypeOffset:]) == ofp13.OFPMP_AGGREGATE {
		klog.V(2).Infof("refusing aggregate stats request from slice %q", up.slice)
		conn.Send(connection.NewErrorMessage(xid, ofp13.OFPET_BAD_REQUEST, ofp13.OFPBRC_EPERM, msg))
		return
	}

	s.forward(pending{slice: up.slice, xid: xid}, msg)
}

// handleFlowMod admits a flow mod of up's slice and forwards it to the switch,
// or answers the controller with an error.
func (s *session) handleFlowMod(up *upstream, conn *connection.Conn, msg []byte) {
	xid := connection.MessageXid(msg)

	ofm, err := connection.ParseFlowMod(msg)
	if err != nil {
		klog.Errorf("error parsing flow mod from slice %q: %v", up.slice, err)
		conn.Send(connection.NewErrorMessage(xid, ofp13.OFPET_BAD_REQUEST, ofp13.OFPBRC_BAD_LEN, msg))
		return
	}

	fm, err := flows.FromOFP13(ofm)
	if err != nil {
		klog.Errorf("error converting flow mod from slice %q: %v", up.slice, err)
		conn.Send(connection.NewErrorMessage(xid, ofp13.OFPET_BAD_REQUEST, ofp13.OFPBRC_BAD_LEN, msg))
		return
	}

	vlan := admission.NoVLAN
	if v, ok := fm.Match.Vlan(); ok {
		vlan = v
	}

	decision := s.engine.Admit(admission.Request{
		SwitchID: s.dpid,
		Slice:    up.slice,
		Port:     s.matchPortName(fm.Match),
		VLAN:     vlan,
		FlowMod:  fm,
		Ports:    s.ports,
	})
	if !decision.Accepted() {
		errType, code := decision.Verdict.ErrorCode()
		conn.Send(connection.NewErrorMessage(xid, errType, code, msg))
		return
	}

	// removals must be reported back so the slice's flow count shrinks
	if fm.IsAdditive() {
		connection.SetFlowModFlags(msg, ofp13.OFPFF_SEND_FLOW_REM)
	}

	p := pending{slice: up.slice, xid: xid, flow: fm.Key(), charged: decision.Charged}
	if err := s.forward(p, msg); err != nil {
		klog.Errorf("error forwarding flow mod of slice %q to switch %s: %v", up.slice, topology.FormatDPID(s.dpid), err)
		if p.charged {
			s.engine.Release(s.dpid, up.slice, p.flow)
		}
	}
}
