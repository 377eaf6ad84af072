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
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
)

const (
	// HeaderLen is the size of the OpenFlow header every message starts with.
	HeaderLen = 8

	flowModFlagsOffset     = 44
	flowModMatchOffset     = 48
	packetInMatchOffset    = 24
	flowRemovedMatchOffset = 48

	multipartBodyOffset  = HeaderLen + 8
	flowStatsMatchOffset = 48

	// errorDataLen is how much of a failed request an error message echoes.
	errorDataLen = 64
)

var (
	ErrShortMessage       = errors.New("message shorter than its header")
	ErrUnsupportedMessage = errors.New("unsupported message type")
)

// MessageLength returns the length attribute of the OpenFlow header in buf.
func MessageLength(buf []byte) (int, error) {
	if len(buf) < HeaderLen {
		return 0, ErrShortMessage
	}

	// Length attribute in OFP header is uint16 read in BigEndian
	// buf[2:] because first byte is version, second byte is type and
	// length is next
	length := int(binary.BigEndian.Uint16(buf[2:]))
	if length < HeaderLen {
		return 0, fmt.Errorf("invalid message length %d: %w", length, ErrShortMessage)
	}

	return length, nil
}

func MessageType(buf []byte) uint8 {
	return buf[1]
}

func MessageXid(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[4:])
}

// SetXid rewrites the transaction id of the message in place.
func SetXid(buf []byte, xid uint32) {
	binary.BigEndian.PutUint32(buf[4:], xid)
}

// ReadMessage reads exactly one framed message from reader.
func ReadMessage(reader *bufio.Reader) ([]byte, error) {
	// peak into the first 8 bytes (the size of OF header messages)
	// the header message contains the length of the entire message
	// which we need later to move the reader forward
	header, err := reader.Peek(HeaderLen)
	if err != nil {
		return nil, err
	}

	msgLen, err := MessageLength(header)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, msgLen)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// ParseMessage decodes buf. Message types gofc does not decode, or decodes
// incorrectly, are handled here.
func ParseMessage(buf []byte) (msg ofp13.OFMessage, err error) {
	if _, err := MessageLength(buf); err != nil {
		return nil, err
	}

	// gofc indexes without bounds checks
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = fmt.Errorf("malformed message of type %d: %v", MessageType(buf), r)
		}
	}()

	switch MessageType(buf) {
	case ofp13.OFPT_FLOW_MOD:
		return ParseFlowMod(buf)
	case ofp13.OFPT_PACKET_IN:
		return ParsePacketIn(buf)
	case ofp13.OFPT_FLOW_REMOVED:
		return ParseFlowRemoved(buf)
	}

	msg = ofp13.Parse(buf)
	if msg == nil {
		return nil, fmt.Errorf("message type %d: %w", MessageType(buf), ErrUnsupportedMessage)
	}

	return msg, nil
}

// ParseFlowMod decodes an OFPT_FLOW_MOD sent by a controller.
func ParseFlowMod(buf []byte) (*ofp13.OfpFlowMod, error) {
	if len(buf) < flowModMatchOffset+4 {
		return nil, fmt.Errorf("flow mod of %d bytes: %w", len(buf), ErrShortMessage)
	}

	fm := new(ofp13.OfpFlowMod)
	fm.Header.Parse(buf)
	fm.Cookie = binary.BigEndian.Uint64(buf[8:])
	fm.CookieMask = binary.BigEndian.Uint64(buf[16:])
	fm.TableId = buf[24]
	fm.Command = buf[25]
	fm.IdleTimeout = binary.BigEndian.Uint16(buf[26:])
	fm.HardTimeout = binary.BigEndian.Uint16(buf[28:])
	fm.Priority = binary.BigEndian.Uint16(buf[30:])
	fm.BufferId = binary.BigEndian.Uint32(buf[32:])
	fm.OutPort = binary.BigEndian.Uint32(buf[36:])
	fm.OutGroup = binary.BigEndian.Uint32(buf[40:])
	fm.Flags = binary.BigEndian.Uint16(buf[flowModFlagsOffset:])

	match, n, err := parseMatch(buf[flowModMatchOffset:])
	if err != nil {
		return nil, err
	}
	fm.Match = match

	instructions, err := parseInstructions(buf[flowModMatchOffset+n:])
	if err != nil {
		return nil, err
	}
	fm.Instructions = instructions

	return fm, nil
}

// SetFlowModFlags ors flags into the flags of the raw flow mod in buf.
func SetFlowModFlags(buf []byte, flags uint16) error {
	if len(buf) < flowModMatchOffset || MessageType(buf) != ofp13.OFPT_FLOW_MOD {
		return fmt.Errorf("not a flow mod")
	}

	current := binary.BigEndian.Uint16(buf[flowModFlagsOffset:])
	binary.BigEndian.PutUint16(buf[flowModFlagsOffset:], current|flags)
	return nil
}

func ParsePacketIn(buf []byte) (*ofp13.OfpPacketIn, error) {
	if len(buf) < packetInMatchOffset+4 {
		return nil, fmt.Errorf("packet in of %d bytes: %w", len(buf), ErrShortMessage)
	}

	pi := new(ofp13.OfpPacketIn)
	pi.Header.Parse(buf)
	pi.BufferId = binary.BigEndian.Uint32(buf[8:])
	pi.TotalLen = binary.BigEndian.Uint16(buf[12:])
	pi.Reason = buf[14]
	pi.TableId = buf[15]
	pi.Cookie = binary.BigEndian.Uint64(buf[16:])

	match, n, err := parseMatch(buf[packetInMatchOffset:])
	if err != nil {
		return nil, err
	}
	pi.Match = match

	// two bytes of padding precede the frame
	dataOffset := packetInMatchOffset + n + 2
	if dataOffset > len(buf) {
		return nil, fmt.Errorf("packet in data: %w", ErrShortMessage)
	}
	pi.Data = append([]byte(nil), buf[dataOffset:]...)

	return pi, nil
}

func ParseFlowRemoved(buf []byte) (*ofp13.OfpFlowRemoved, error) {
	if len(buf) < flowRemovedMatchOffset+4 {
		return nil, fmt.Errorf("flow removed of %d bytes: %w", len(buf), ErrShortMessage)
	}

	fr := new(ofp13.OfpFlowRemoved)
	fr.Header.Parse(buf)
	fr.Cookie = binary.BigEndian.Uint64(buf[8:])
	fr.Priority = binary.BigEndian.Uint16(buf[16:])
	fr.Reason = buf[18]
	fr.TableId = buf[19]
	fr.DurationSec = binary.BigEndian.Uint32(buf[20:])
	fr.DurationNSec = binary.BigEndian.Uint32(buf[24:])
	fr.IdleTimeout = binary.BigEndian.Uint16(buf[28:])
	fr.HardTimeout = binary.BigEndian.Uint16(buf[30:])
	fr.PacketCount = binary.BigEndian.Uint64(buf[32:])
	fr.ByteCount = binary.BigEndian.Uint64(buf[40:])

	match, _, err := parseMatch(buf[flowRemovedMatchOffset:])
	if err != nil {
		return nil, err
	}
	fr.Match = match

	return fr, nil
}

// FilterFlowStats rebuilds an OFPMP_FLOW multipart reply with only the flow
// stats entries whose match keep accepts.
func FilterFlowStats(buf []byte, keep func(*ofp13.OfpMatch) bool) ([]byte, error) {
	if len(buf) < multipartBodyOffset {
		return nil, fmt.Errorf("multipart reply of %d bytes: %w", len(buf), ErrShortMessage)
	}

	filtered := append([]byte(nil), buf[:multipartBodyOffset]...)
	for index := multipartBodyOffset; index < len(buf); {
		if index+2 > len(buf) {
			return nil, fmt.Errorf("truncated flow stats at offset %d", index)
		}

		entryLen := int(binary.BigEndian.Uint16(buf[index:]))
		if entryLen < flowStatsMatchOffset+8 || index+entryLen > len(buf) {
			return nil, fmt.Errorf("invalid flow stats length %d", entryLen)
		}
		entry := buf[index : index+entryLen]

		match, _, err := parseMatch(entry[flowStatsMatchOffset:])
		if err != nil {
			return nil, err
		}
		if keep(match) {
			filtered = append(filtered, entry...)
		}

		index += entryLen
	}

	binary.BigEndian.PutUint16(filtered[2:], uint16(len(filtered)))
	return filtered, nil
}

// parseMatch decodes an ofp_match and returns it with its padded length.
// OXM fields gofc cannot decode are skipped; dropping a field only widens
// the decoded match.
func parseMatch(buf []byte) (*ofp13.OfpMatch, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("match: %w", ErrShortMessage)
	}

	length := int(binary.BigEndian.Uint16(buf[2:]))
	padded := (length + 7) / 8 * 8
	if length < 4 || padded > len(buf) {
		return nil, 0, fmt.Errorf("invalid match length %d", length)
	}

	// rebuild the match with the fields gofc knows, then let it decode them
	known := make([]byte, 4, length)
	for index := 4; index < length; {
		if index+4 > length {
			return nil, 0, fmt.Errorf("truncated oxm field at offset %d", index)
		}

		header := binary.BigEndian.Uint32(buf[index:])
		fieldLen := 4 + int(header&0xff)
		if index+fieldLen > length {
			return nil, 0, fmt.Errorf("truncated oxm field at offset %d", index)
		}

		class := header >> 16
		field := (header >> 9) & 0x7f
		if class == ofp13.OFPXMC_OPENFLOW_BASIC && field <= ofp13.OFPXMT_OFB_IPV6_EXTHDR {
			known = append(known, buf[index:index+fieldLen]...)
		}

		index += fieldLen
	}

	binary.BigEndian.PutUint16(known[0:], binary.BigEndian.Uint16(buf[0:]))
	binary.BigEndian.PutUint16(known[2:], uint16(len(known)))

	match := ofp13.NewOfpMatch()
	match.Parse(known)

	return match, padded, nil
}

func parseInstructions(buf []byte) ([]ofp13.OfpInstruction, error) {
	var instructions []ofp13.OfpInstruction

	for index := 0; index < len(buf); {
		if index+4 > len(buf) {
			return nil, fmt.Errorf("truncated instruction at offset %d", index)
		}

		instType := binary.BigEndian.Uint16(buf[index:])
		instLen := int(binary.BigEndian.Uint16(buf[index+2:]))
		if instLen < 8 || index+instLen > len(buf) {
			return nil, fmt.Errorf("invalid instruction length %d", instLen)
		}
		inst := buf[index : index+instLen]

		switch instType {
		case ofp13.OFPIT_APPLY_ACTIONS, ofp13.OFPIT_WRITE_ACTIONS, ofp13.OFPIT_CLEAR_ACTIONS:
			actions, err := parseActions(inst[8:])
			if err != nil {
				return nil, err
			}
			i := ofp13.NewOfpInstructionActions(instType)
			for _, action := range actions {
				i.Append(action)
			}
			instructions = append(instructions, i)
		case ofp13.OFPIT_GOTO_TABLE:
			instructions = append(instructions, ofp13.NewOfpInstructionGotoTable(inst[4]))
		case ofp13.OFPIT_METER:
			instructions = append(instructions, ofp13.NewOfpInstructionMeter(binary.BigEndian.Uint32(inst[4:])))
		case ofp13.OFPIT_WRITE_METADATA:
			if instLen < 24 {
				return nil, fmt.Errorf("invalid write metadata length %d", instLen)
			}
			instructions = append(instructions, ofp13.NewOfpInstructionWriteMetadata(
				binary.BigEndian.Uint64(inst[8:]), binary.BigEndian.Uint64(inst[16:])))
		default:
			return nil, fmt.Errorf("unsupported instruction type %d", instType)
		}

		index += instLen
	}

	return instructions, nil
}

func parseActions(buf []byte) ([]ofp13.OfpAction, error) {
	var actions []ofp13.OfpAction

	for index := 0; index < len(buf); {
		if index+4 > len(buf) {
			return nil, fmt.Errorf("truncated action at offset %d", index)
		}

		actionLen := int(binary.BigEndian.Uint16(buf[index+2:]))
		if actionLen < 8 || index+actionLen > len(buf) {
			return nil, fmt.Errorf("invalid action length %d", actionLen)
		}

		var action ofp13.OfpAction
		if binary.BigEndian.Uint16(buf[index:]) == ofp13.OFPAT_SET_FIELD {
			setField, err := parseSetField(buf[index : index+actionLen])
			if err != nil {
				return nil, err
			}
			action = setField
		} else {
			action = ofp13.ParseAction(buf[index : index+actionLen])
		}
		if action == nil {
			return nil, fmt.Errorf("unsupported action type %d", binary.BigEndian.Uint16(buf[index:]))
		}
		actions = append(actions, action)

		index += actionLen
	}

	return actions, nil
}

// parseSetField decodes an OFPAT_SET_FIELD action. gofc reads the field from
// the action header, so the field is decoded as a one field match instead.
// A field gofc does not know is left nil.
func parseSetField(buf []byte) (*ofp13.OfpActionSetField, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("set field: %w", ErrShortMessage)
	}

	fieldLen := 4 + int(buf[7])
	if 4+fieldLen > len(buf) {
		return nil, fmt.Errorf("truncated set field of %d bytes", fieldLen)
	}

	length := 4 + fieldLen
	oxm := make([]byte, (length+7)/8*8)
	binary.BigEndian.PutUint16(oxm[0:], ofp13.OFPMT_OXM)
	binary.BigEndian.PutUint16(oxm[2:], uint16(length))
	copy(oxm[4:], buf[4:4+fieldLen])

	match, _, err := parseMatch(oxm)
	if err != nil {
		return nil, err
	}

	action := &ofp13.OfpActionSetField{
		ActionHeader: ofp13.NewOfpActionHeader(ofp13.OFPAT_SET_FIELD, binary.BigEndian.Uint16(buf[2:])),
	}
	if len(match.OxmFields) > 0 {
		action.Oxm = match.OxmFields[0]
	}

	return action, nil
}

// NewHeaderMessage builds a body-less message such as HELLO or
// FEATURES_REQUEST.
func NewHeaderMessage(msgType uint8, xid uint32) []byte {
	header := ofp13.OfpHeader{Version: 4, Type: msgType, Length: HeaderLen, Xid: xid}
	return header.Serialize()
}

// NewMultipartRequest builds a body-less multipart request of mpType.
func NewMultipartRequest(mpType uint16, xid uint32) []byte {
	buf := make([]byte, HeaderLen+8)
	header := ofp13.OfpHeader{Version: 4, Type: ofp13.OFPT_MULTIPART_REQUEST, Length: uint16(len(buf)), Xid: xid}
	copy(buf, header.Serialize())
	binary.BigEndian.PutUint16(buf[HeaderLen:], mpType)

	return buf
}

// NewErrorMessage builds an OFPT_ERROR echoing the start of the failed
// request.
func NewErrorMessage(xid uint32, errType, code uint16, request []byte) []byte {
	if len(request) > errorDataLen {
		request = request[:errorDataLen]
	}

	buf := make([]byte, HeaderLen+4+len(request))
	header := ofp13.OfpHeader{Version: 4, Type: ofp13.OFPT_ERROR, Length: uint16(len(buf)), Xid: xid}
	copy(buf, header.Serialize())
	binary.BigEndian.PutUint16(buf[HeaderLen:], errType)
	binary.BigEndian.PutUint16(buf[HeaderLen+2:], code)
	copy(buf[HeaderLen+4:], request)

	return buf
}
