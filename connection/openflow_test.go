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

package connection

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-vswitch/flowspace-firewall/flows"
)

func newFlowModBytes(t *testing.T) []byte {
	t.Helper()

	match := ofp13.NewOfpMatch()
	match.Append(ofp13.NewOxmInPort(1))
	match.Append(ofp13.NewOxmVlanVid(ofp13.OFPVID_PRESENT | 150))

	apply := ofp13.NewOfpInstructionActions(ofp13.OFPIT_APPLY_ACTIONS)
	apply.Append(ofp13.NewOfpActionOutput(2, 0))

	fm := ofp13.NewOfpFlowModAdd(0, 0, 0, 100, 0, match, []ofp13.OfpInstruction{apply, ofp13.NewOfpInstructionGotoTable(1)})
	fm.Header.Xid = 42
	return fm.Serialize()
}

func Test_MessageLength(t *testing.T) {
	_, err := MessageLength([]byte{4, 0, 0})
	assert.ErrorIs(t, err, ErrShortMessage)

	_, err = MessageLength([]byte{4, 0, 0, 4, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrShortMessage)

	length, err := MessageLength(NewHeaderMessage(ofp13.OFPT_HELLO, 1))
	require.NoError(t, err)
	assert.Equal(t, HeaderLen, length)
}

func Test_ReadMessage(t *testing.T) {
	hello := NewHeaderMessage(ofp13.OFPT_HELLO, 7)
	flowMod := newFlowModBytes(t)

	reader := bufio.NewReader(bytes.NewReader(append(append([]byte{}, hello...), flowMod...)))

	msg, err := ReadMessage(reader)
	require.NoError(t, err)
	assert.Equal(t, hello, msg)
	assert.Equal(t, uint32(7), MessageXid(msg))

	msg, err = ReadMessage(reader)
	require.NoError(t, err)
	assert.Equal(t, flowMod, msg)
	assert.Equal(t, uint8(ofp13.OFPT_FLOW_MOD), MessageType(msg))

	_, err = ReadMessage(reader)
	assert.ErrorIs(t, err, io.EOF)

	truncated := bufio.NewReader(bytes.NewReader(flowMod[:20]))
	_, err = ReadMessage(truncated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func Test_ParseFlowMod(t *testing.T) {
	raw := newFlowModBytes(t)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	ofm, ok := msg.(*ofp13.OfpFlowMod)
	require.True(t, ok)
	assert.Equal(t, uint32(42), ofm.Header.Xid)
	assert.Equal(t, uint16(100), ofm.Priority)
	require.Len(t, ofm.Instructions, 2)

	fm, err := flows.FromOFP13(ofm)
	require.NoError(t, err)
	assert.Equal(t, "add table=0 priority=100 in_port=1 dl_vlan=150 actions=output:2,goto_table:1", fm.String())
}

func Test_ParseFlowModTruncated(t *testing.T) {
	raw := newFlowModBytes(t)

	_, err := ParseFlowMod(raw[:30])
	assert.ErrorIs(t, err, ErrShortMessage)

	_, err = ParseFlowMod(raw[:len(raw)-4])
	assert.Error(t, err)
}

func Test_SetFlowModFlags(t *testing.T) {
	raw := newFlowModBytes(t)
	require.NoError(t, SetFlowModFlags(raw, ofp13.OFPFF_SEND_FLOW_REM))

	ofm, err := ParseFlowMod(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(ofp13.OFPFF_SEND_FLOW_REM), ofm.Flags)

	assert.Error(t, SetFlowModFlags(NewHeaderMessage(ofp13.OFPT_HELLO, 1), ofp13.OFPFF_SEND_FLOW_REM))
}

func oxmInPort(port uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf, 0x80000004)
	binary.BigEndian.PutUint32(buf[4:], port)
	return buf
}

func Test_ParseMatchSkipsUnknownFields(t *testing.T) {
	experimenter := make([]byte, 8)
	binary.BigEndian.PutUint32(experimenter, 0xffff0204)
	binary.BigEndian.PutUint32(experimenter[4:], 0xdeadbeef)

	fields := append(oxmInPort(3), experimenter...)
	buf := make([]byte, 24)
	binary.BigEndian.PutUint16(buf, ofp13.OFPMT_OXM)
	binary.BigEndian.PutUint16(buf[2:], uint16(4+len(fields)))
	copy(buf[4:], fields)

	match, n, err := parseMatch(buf)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	require.Len(t, match.OxmFields, 1)

	inPort, ok := match.OxmFields[0].(*ofp13.OxmInPort)
	require.True(t, ok)
	assert.Equal(t, uint32(3), inPort.Value)

	_, _, err = parseMatch(buf[:16])
	assert.Error(t, err)
}

func Test_ParsePacketIn(t *testing.T) {
	frame := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x08, 0x06}

	buf := make([]byte, 24)
	buf[0] = 4
	buf[1] = ofp13.OFPT_PACKET_IN
	binary.BigEndian.PutUint32(buf[4:], 9)
	binary.BigEndian.PutUint32(buf[8:], ofp13.OFP_NO_BUFFER)
	binary.BigEndian.PutUint16(buf[12:], uint16(len(frame)))

	match := make([]byte, 16)
	binary.BigEndian.PutUint16(match, ofp13.OFPMT_OXM)
	binary.BigEndian.PutUint16(match[2:], 12)
	copy(match[4:], oxmInPort(5))

	buf = append(buf, match...)
	buf = append(buf, 0, 0)
	buf = append(buf, frame...)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(buf)))

	msg, err := ParseMessage(buf)
	require.NoError(t, err)

	pi, ok := msg.(*ofp13.OfpPacketIn)
	require.True(t, ok)
	assert.Equal(t, uint32(9), pi.Header.Xid)
	assert.Equal(t, frame, pi.Data)
	require.Len(t, pi.Match.OxmFields, 1)
	assert.Equal(t, uint32(5), pi.Match.OxmFields[0].(*ofp13.OxmInPort).Value)
}

func Test_ParseFlowRemoved(t *testing.T) {
	buf := make([]byte, 48)
	buf[0] = 4
	buf[1] = ofp13.OFPT_FLOW_REMOVED
	binary.BigEndian.PutUint16(buf[16:], 100)
	buf[18] = ofp13.OFPRR_IDLE_TIMEOUT

	match := make([]byte, 16)
	binary.BigEndian.PutUint16(match, ofp13.OFPMT_OXM)
	binary.BigEndian.PutUint16(match[2:], 12)
	copy(match[4:], oxmInPort(2))
	buf = append(buf, match...)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(buf)))

	msg, err := ParseMessage(buf)
	require.NoError(t, err)

	fr, ok := msg.(*ofp13.OfpFlowRemoved)
	require.True(t, ok)
	assert.Equal(t, uint16(100), fr.Priority)
	assert.Equal(t, uint8(ofp13.OFPRR_IDLE_TIMEOUT), fr.Reason)
	require.Len(t, fr.Match.OxmFields, 1)
}

func Test_ParseMessageUnsupported(t *testing.T) {
	_, err := ParseMessage(NewHeaderMessage(ofp13.OFPT_FEATURES_REQUEST, 1))
	assert.ErrorIs(t, err, ErrUnsupportedMessage)

	msg, err := ParseMessage(NewHeaderMessage(ofp13.OFPT_HELLO, 1))
	require.NoError(t, err)
	assert.IsType(t, &ofp13.OfpHello{}, msg)
}

func Test_NewErrorMessage(t *testing.T) {
	request := newFlowModBytes(t)
	require.Greater(t, len(request), errorDataLen)

	buf := NewErrorMessage(42, ofp13.OFPET_FLOW_MOD_FAILED, ofp13.OFPFMFC_EPERM, request)
	length, err := MessageLength(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), length)
	assert.Equal(t, HeaderLen+4+errorDataLen, length)

	msg, err := ParseMessage(buf)
	require.NoError(t, err)

	errMsg, ok := msg.(*ofp13.OfpErrorMsg)
	require.True(t, ok)
	assert.Equal(t, uint32(42), errMsg.Header.Xid)
	assert.Equal(t, uint16(ofp13.OFPET_FLOW_MOD_FAILED), errMsg.Type)
	assert.Equal(t, uint16(ofp13.OFPFMFC_EPERM), errMsg.Code)
	assert.Equal(t, request[:errorDataLen], []byte(errMsg.Data))
}

func Test_NewMultipartRequest(t *testing.T) {
	buf := NewMultipartRequest(ofp13.OFPMP_PORT_DESC, 3)
	assert.Len(t, buf, 16)
	assert.Equal(t, uint8(ofp13.OFPT_MULTIPART_REQUEST), MessageType(buf))
	assert.Equal(t, uint16(ofp13.OFPMP_PORT_DESC), binary.BigEndian.Uint16(buf[8:]))
	assert.Equal(t, uint32(3), MessageXid(buf))

	SetXid(buf, 11)
	assert.Equal(t, uint32(11), MessageXid(buf))
}

func Test_ParseFlowModSetField(t *testing.T) {
	match := ofp13.NewOfpMatch()
	match.Append(ofp13.NewOxmInPort(1))
	match.Append(ofp13.NewOxmVlanVid(ofp13.OFPVID_PRESENT | 150))

	apply := ofp13.NewOfpInstructionActions(ofp13.OFPIT_APPLY_ACTIONS)
	apply.Append(ofp13.NewOfpActionSetField(ofp13.NewOxmVlanVid(ofp13.OFPVID_PRESENT | 250)))
	apply.Append(ofp13.NewOfpActionOutput(2, 0))

	raw := ofp13.NewOfpFlowModAdd(0, 0, 0, 100, 0, match, []ofp13.OfpInstruction{apply}).Serialize()

	ofm, err := ParseFlowMod(raw)
	require.NoError(t, err)

	fm, err := flows.FromOFP13(ofm)
	require.NoError(t, err)
	assert.Equal(t, "add table=0 priority=100 in_port=1 dl_vlan=150 actions=set_field:250->vlan_vid,output:2", fm.String())
}

func Test_ParseSetFieldUnknown(t *testing.T) {
	// experimenter class field
	buf := make([]byte, 16)
	binary.BigEndian.PutUint16(buf, ofp13.OFPAT_SET_FIELD)
	binary.BigEndian.PutUint16(buf[2:], 16)
	binary.BigEndian.PutUint32(buf[4:], 0xffff0204)
	binary.BigEndian.PutUint32(buf[8:], 0xdeadbeef)

	action, err := parseSetField(buf)
	require.NoError(t, err)
	assert.Nil(t, action.Oxm)

	_, err = parseSetField(buf[:6])
	assert.Error(t, err)
}

// flowStats builds one ofp_flow_stats entry for a flow on inPort and vlan.
func flowStats(priority uint16, inPort uint32, vlan uint16) []byte {
	fields := oxmInPort(inPort)
	vid := make([]byte, 6)
	binary.BigEndian.PutUint32(vid, 0x80000c02)
	binary.BigEndian.PutUint16(vid[4:], ofp13.OFPVID_PRESENT|vlan)
	fields = append(fields, vid...)

	match := make([]byte, (4+len(fields)+7)/8*8)
	binary.BigEndian.PutUint16(match, ofp13.OFPMT_OXM)
	binary.BigEndian.PutUint16(match[2:], uint16(4+len(fields)))
	copy(match[4:], fields)

	entry := make([]byte, flowStatsMatchOffset)
	binary.BigEndian.PutUint16(entry[12:], priority)
	entry = append(entry, match...)
	binary.BigEndian.PutUint16(entry, uint16(len(entry)))
	return entry
}

func Test_FilterFlowStats(t *testing.T) {
	reply := NewMultipartRequest(ofp13.OFPMP_FLOW, 9)
	reply[1] = ofp13.OFPT_MULTIPART_REPLY
	reply = append(reply, flowStats(1, 1, 150)...)
	reply = append(reply, flowStats(2, 1, 250)...)
	reply = append(reply, flowStats(3, 2, 150)...)
	binary.BigEndian.PutUint16(reply[2:], uint16(len(reply)))

	onPortOne := func(match *ofp13.OfpMatch) bool {
		for _, field := range match.OxmFields {
			if inPort, ok := field.(*ofp13.OxmInPort); ok {
				return inPort.Value == 1
			}
		}
		return false
	}

	filtered, err := FilterFlowStats(reply, onPortOne)
	require.NoError(t, err)

	length, err := MessageLength(filtered)
	require.NoError(t, err)
	assert.Equal(t, len(filtered), length)
	assert.Equal(t, uint32(9), MessageXid(filtered))

	entryLen := len(flowStats(1, 1, 150))
	require.Len(t, filtered, multipartBodyOffset+2*entryLen)
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(filtered[multipartBodyOffset+12:]))
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(filtered[multipartBodyOffset+entryLen+12:]))

	none, err := FilterFlowStats(reply, func(*ofp13.OfpMatch) bool { return false })
	require.NoError(t, err)
	assert.Len(t, none, multipartBodyOffset)

	_, err = FilterFlowStats(reply[:len(reply)-4], onPortOne)
	assert.Error(t, err)
}
