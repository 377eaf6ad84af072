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
	"fmt"
	"sync"
	"time"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
	"k8s.io/klog"

	"github.com/k-vswitch/flowspace-firewall/admission"
	"github.com/k-vswitch/flowspace-firewall/connection"
	"github.com/k-vswitch/flowspace-firewall/flows"
	"github.com/k-vswitch/flowspace-firewall/topology"
)

const (
	multipartTypeOffset  = connection.HeaderLen
	multipartFlagsOffset = connection.HeaderLen + 2
	multipartHeaderLen   = connection.HeaderLen + 8
	errorTypeOffset      = connection.HeaderLen
)

// session is the proxy side of one switch connection.
type session struct {
	ctx    context.Context
	proxy  *Proxy
	engine *admission.Engine
	sw     *connection.Conn

	dpid     uint64
	features []byte
	ports    *portCache
	xids     *xidTable

	lock      sync.Mutex
	closed    bool
	upstreams map[string]*upstream
	wg        sync.WaitGroup
}

func newSession(ctx context.Context, p *Proxy, sw *connection.Conn) *session {
	return &session{
		ctx:       ctx,
		proxy:     p,
		engine:    p.engine,
		sw:        sw,
		ports:     newPortCache(),
		xids:      newXidTable(),
		upstreams: make(map[string]*upstream),
	}
}

// handshake exchanges hellos, learns the datapath id from the features reply
// and fills the port cache from the port descriptions.
func (s *session) handshake() error {
	timer := time.AfterFunc(s.proxy.handshakeTimeout, func() {
		klog.Errorf("handshake with switch %s timed out", s.sw.RemoteAddr())
		s.sw.Close()
	})
	defer timer.Stop()

	// send initial hello which is required to establish a proper connection
	// with an open flow switch.
	if err := s.sw.Send(connection.NewHeaderMessage(ofp13.OFPT_HELLO, s.xids.Allocate())); err != nil {
		return err
	}

	// next thing to do is send a feature request message to receive the
	// data path ID of the switch
	if err := s.sw.Send(connection.NewHeaderMessage(ofp13.OFPT_FEATURES_REQUEST, s.xids.Allocate())); err != nil {
		return err
	}

	var portDescXid uint32
	for {
		msg, err := s.sw.Receive()
		if err != nil {
			return fmt.Errorf("handshake with switch %s: %w", s.sw.RemoteAddr(), err)
		}

		switch connection.MessageType(msg) {
		case ofp13.OFPT_HELLO, ofp13.OFPT_ECHO_REPLY:
		case ofp13.OFPT_ECHO_REQUEST:
			echo(s.sw, msg)

		case ofp13.OFPT_ERROR:
			return fmt.Errorf("switch %s refused handshake: %s", s.sw.RemoteAddr(), describeError(msg))

		case ofp13.OFPT_FEATURES_REPLY:
			parsed, err := connection.ParseMessage(msg)
			if err != nil {
				return fmt.Errorf("error parsing features reply: %w", err)
			}

			features := parsed.(*ofp13.OfpSwitchFeatures)
			s.dpid = features.DatapathId
			s.features = msg
			klog.Infof("set datapath ID to %s", topology.FormatDPID(s.dpid))

			portDescXid = s.xids.Allocate()
			if err := s.sw.Send(connection.NewMultipartRequest(ofp13.OFPMP_PORT_DESC, portDescXid)); err != nil {
				return err
			}

		case ofp13.OFPT_MULTIPART_REPLY:
			if portDescXid == 0 || connection.MessageXid(msg) != portDescXid {
				continue
			}

			more, err := s.loadPorts(msg)
			if err != nil {
				return err
			}
			if !more {
				klog.V(4).Infof("switch %s ports: %v", topology.FormatDPID(s.dpid), s.ports.Names())
				return nil
			}

		default:
			klog.V(4).Infof("ignoring message type %d from switch %s during handshake",
				connection.MessageType(msg), s.sw.RemoteAddr())
		}
	}
}

// loadPorts adds the ports of a PORT_DESC reply to the cache and reports
// whether more parts follow.
func (s *session) loadPorts(msg []byte) (bool, error) {
	parsed, err := connection.ParseMessage(msg)
	if err != nil {
		return false, fmt.Errorf("error parsing port descriptions: %w", err)
	}

	reply := parsed.(*ofp13.OfpMultipartReply)
	s.ports.Load(reply)

	return reply.Flags&ofp13.OFPMPF_REPLY_MORE != 0, nil
}

// run relays switch messages to the slice controllers until the switch
// connection ends.
func (s *session) run() error {
	for {
		msg, err := s.sw.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("error reading from switch %s: %w", topology.FormatDPID(s.dpid), err)
		}

		s.handleSwitchMessage(msg)
	}
}

func (s *session) handleSwitchMessage(msg []byte) {
	switch connection.MessageType(msg) {
	case ofp13.OFPT_HELLO, ofp13.OFPT_ECHO_REPLY:
	case ofp13.OFPT_ECHO_REQUEST:
		echo(s.sw, msg)
	case ofp13.OFPT_PACKET_IN:
		s.handlePacketIn(msg)
	case ofp13.OFPT_FLOW_REMOVED:
		s.handleFlowRemoved(msg)
	case ofp13.OFPT_PORT_STATUS:
		s.handlePortStatus(msg)
	case ofp13.OFPT_ERROR:
		s.handleError(msg)
	case ofp13.OFPT_MULTIPART_REPLY:
		s.handleMultipartReply(msg)
	default:
		s.reply(msg, false)
	}
}

func (s *session) handlePacketIn(msg []byte) {
	pi, err := connection.ParsePacketIn(msg)
	if err != nil {
		klog.Errorf("error parsing packet in from switch %s: %v", topology.FormatDPID(s.dpid), err)
		return
	}

	if slice, ok := s.route(msg, s.inPortName(pi.Match), frameVLAN(pi.Data)); ok {
		s.sendTo(slice, msg)
	}
}

func (s *session) handleFlowRemoved(msg []byte) {
	fr, err := connection.ParseFlowRemoved(msg)
	if err != nil {
		klog.Errorf("error parsing flow removed from switch %s: %v", topology.FormatDPID(s.dpid), err)
		return
	}

	match, err := flows.FromOXM(fr.Match)
	if err != nil {
		klog.Errorf("error converting removed flow match: %v", err)
		return
	}

	vlan := admission.NoVLAN
	if v, ok := match.Vlan(); ok {
		vlan = v
	}

	if slice, ok := s.route(msg, s.matchPortName(match), vlan); ok {
		s.engine.Release(s.dpid, slice, flows.NewKey(fr.TableId, fr.Priority, match))
		s.sendTo(slice, msg)
	}
}

func (s *session) handlePortStatus(msg []byte) {
	parsed, err := connection.ParseMessage(msg)
	if err != nil {
		klog.Errorf("error parsing port status from switch %s: %v", topology.FormatDPID(s.dpid), err)
		return
	}

	port := s.ports.Update(parsed.(*ofp13.OfpPortStatus))
	klog.V(4).Infof("port %s (%d) changed on switch %s", port.name, port.ofport, topology.FormatDPID(s.dpid))

	for _, sl := range s.engine.Snapshot().SlicersFor(s.dpid) {
		if sl.HasPort(port.name) {
			s.sendTo(sl.Name(), msg)
		}
	}
}

// handleError returns an error to the slice whose request failed. A failed
// flow add gives back the flow it was charged for.
func (s *session) handleError(msg []byte) {
	if len(msg) < errorTypeOffset+4 {
		return
	}

	p, ok := s.xids.Lookup(connection.MessageXid(msg), false)
	if !ok {
		klog.Warningf("error from switch %s for unknown request: %s", topology.FormatDPID(s.dpid), describeError(msg))
		return
	}

	if p.charged && binary.BigEndian.Uint16(msg[errorTypeOffset:]) == ofp13.OFPET_FLOW_MOD_FAILED {
		s.engine.Release(s.dpid, p.slice, p.flow)
	}

	s.replyTo(p, msg)
}

func (s *session) handleMultipartReply(msg []byte) {
	if len(msg) < multipartHeaderLen {
		return
	}

	mpType := binary.BigEndian.Uint16(msg[multipartTypeOffset:])
	if mpType == ofp13.OFPMP_PORT_DESC {
		if _, err := s.loadPorts(msg); err != nil {
			klog.Errorf("error refreshing ports of switch %s: %v", topology.FormatDPID(s.dpid), err)
		}
	}

	more := binary.BigEndian.Uint16(msg[multipartFlagsOffset:])&ofp13.OFPMPF_REPLY_MORE != 0
	if mpType != ofp13.OFPMP_FLOW {
		s.reply(msg, more)
		return
	}

	p, ok := s.lookup(msg, more)
	if !ok {
		return
	}

	filtered, err := connection.FilterFlowStats(msg, func(match *ofp13.OfpMatch) bool {
		return s.sliceOwns(p.slice, match)
	})
	if err != nil {
		klog.Errorf("error filtering flow stats from switch %s: %v", topology.FormatDPID(s.dpid), err)
		return
	}

	s.replyTo(p, filtered)
}

// sliceOwns reports whether the flow matching match belongs to slice: its
// in_port and VLAN must both be entitled to the slice.
func (s *session) sliceOwns(slice string, match *ofp13.OfpMatch) bool {
	m, err := flows.FromOXM(match)
	if err != nil {
		return false
	}

	vlan := admission.NoVLAN
	if v, ok := m.Vlan(); ok {
		vlan = v
	}

	return s.engine.Entitled(s.dpid, slice, s.matchPortName(m), vlan)
}

// reply returns a reply to the slice that sent the request.
func (s *session) reply(msg []byte, more bool) {
	if p, ok := s.lookup(msg, more); ok {
		s.replyTo(p, msg)
	}
}

func (s *session) lookup(msg []byte, more bool) (pending, bool) {
	p, ok := s.xids.Lookup(connection.MessageXid(msg), more)
	if !ok {
		klog.V(4).Infof("dropping message type %d with unknown xid %d from switch %s",
			connection.MessageType(msg), connection.MessageXid(msg), topology.FormatDPID(s.dpid))
	}

	return p, ok
}

func (s *session) replyTo(p pending, msg []byte) {
	connection.SetXid(msg, p.xid)
	s.sendTo(p.slice, msg)
}

// route names the one slice entitled to vlan on port, which an asynchronous
// event of the switch is delivered to.
func (s *session) route(msg []byte, port string, vlan int) (string, bool) {
	sl, err := s.engine.Route(s.dpid, port, vlan)
	if err != nil {
		klog.V(4).Infof("dropping message type %d from switch %s: %v",
			connection.MessageType(msg), topology.FormatDPID(s.dpid), err)
		return "", false
	}

	return sl.Name(), true
}

func (s *session) sendTo(slice string, msg []byte) {
	s.lock.Lock()
	up, ok := s.upstreams[slice]
	s.lock.Unlock()

	if !ok {
		return
	}

	up.send(msg)
}

// forward sends a slice request to the switch under a proxy transaction id.
func (s *session) forward(p pending, msg []byte) error {
	connection.SetXid(msg, s.xids.Track(p))
	return s.sw.Send(msg)
}

func (s *session) inPortName(match *ofp13.OfpMatch) string {
	if match == nil {
		return ""
	}

	for _, field := range match.OxmFields {
		if inPort, ok := field.(*ofp13.OxmInPort); ok {
			name, _ := s.ports.Name(inPort.Value)
			return name
		}
	}

	return ""
}

func (s *session) matchPortName(match *flows.Match) string {
	if match == nil || match.Wildcarded(flows.WildcardInPort) {
		return ""
	}

	name, _ := s.ports.Name(match.InPort)
	return name
}

func echo(conn *connection.Conn, request []byte) {
	reply := append([]byte(nil), request...)
	reply[1] = ofp13.OFPT_ECHO_REPLY
	conn.Send(reply)
}

func describeError(msg []byte) string {
	if len(msg) < errorTypeOffset+4 {
		return "truncated error message"
	}

	return fmt.Sprintf("type=%d code=%d",
		binary.BigEndian.Uint16(msg[errorTypeOffset:]), binary.BigEndian.Uint16(msg[errorTypeOffset+2:]))
}
