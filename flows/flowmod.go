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
	"fmt"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
)

// FlowMod is a decoded flow modification request.
type FlowMod struct {
	Xid      uint32
	Command  uint8
	Flags    uint16
	TableID  uint8
	Priority uint16
	Cookie   uint64

	Match   *Match
	Actions Actions
}

func FromOFP13(fm *ofp13.OfpFlowMod) (*FlowMod, error) {
	match, err := FromOXM(fm.Match)
	if err != nil {
		return nil, fmt.Errorf("error converting flow mod match: %w", err)
	}

	return &FlowMod{
		Xid:      fm.Header.Xid,
		Command:  fm.Command,
		Flags:    fm.Flags,
		TableID:  fm.TableId,
		Priority: fm.Priority,
		Cookie:   fm.Cookie,
		Match:    match,
		Actions:  ActionsFromInstructions(fm.Instructions),
	}, nil
}

// Key identifies a flow entry the way a switch does: an add with the key of
// an installed entry replaces that entry.
type Key struct {
	TableID  uint8
	Priority uint16
	Match    string
}

func NewKey(tableID uint8, priority uint16, match *Match) Key {
	if match == nil {
		match = NewMatch()
	}

	return Key{TableID: tableID, Priority: priority, Match: match.String()}
}

func (k Key) String() string {
	return fmt.Sprintf("table=%d priority=%d %s", k.TableID, k.Priority, k.Match)
}

func (f *FlowMod) Key() Key {
	return NewKey(f.TableID, f.Priority, f.Match)
}

// IsAdditive reports whether the request can install or rewrite flow entries.
func (f *FlowMod) IsAdditive() bool {
	switch f.Command {
	case ofp13.OFPFC_ADD, ofp13.OFPFC_MODIFY, ofp13.OFPFC_MODIFY_STRICT:
		return true
	}

	return f.Flags&ofp13.OFPFF_CHECK_OVERLAP != 0
}

func (f *FlowMod) IsDelete() bool {
	return f.Command == ofp13.OFPFC_DELETE || f.Command == ofp13.OFPFC_DELETE_STRICT
}

func (f *FlowMod) CommandString() string {
	switch f.Command {
	case ofp13.OFPFC_ADD:
		return "add"
	case ofp13.OFPFC_MODIFY:
		return "modify"
	case ofp13.OFPFC_MODIFY_STRICT:
		return "modify_strict"
	case ofp13.OFPFC_DELETE:
		return "delete"
	case ofp13.OFPFC_DELETE_STRICT:
		return "delete_strict"
	}

	return fmt.Sprintf("command(%d)", f.Command)
}

func (f *FlowMod) String() string {
	flow := fmt.Sprintf("%s table=%d priority=%d", f.CommandString(), f.TableID, f.Priority)

	if f.Match != nil {
		flow = fmt.Sprintf("%s %s", flow, f.Match)
	}

	return fmt.Sprintf("%s actions=%s", flow, f.Actions)
}
