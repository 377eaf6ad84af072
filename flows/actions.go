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
	"sort"
	"strconv"
	"strings"

	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
)

// Action is the canonical, comparable form of a single OpenFlow action or
// instruction, rendered the way ovs-ofctl prints it.
type Action struct {
	Type  string
	Value string
}

func NewAction(actionType, value string) Action {
	return Action{
		Type:  strings.ToLower(strings.TrimSpace(actionType)),
		Value: strings.ToLower(strings.TrimSpace(value)),
	}
}

func (a Action) String() string {
	if a.Value == "" {
		return a.Type
	}

	return fmt.Sprintf("%s:%s", a.Type, a.Value)
}

type Actions []Action

func (a Actions) String() string {
	if len(a) == 0 {
		return "drop"
	}

	var actionSet []string
	for _, action := range a {
		actionSet = append(actionSet, action.String())
	}

	return strings.Join(actionSet, ",")
}

// Equal compares both lists as multisets; order is ignored.
func (a Actions) Equal(other Actions) bool {
	if len(a) != len(other) {
		return false
	}

	return strings.Join(a.sorted(), ",") == strings.Join(other.sorted(), ",")
}

func (a Actions) sorted() []string {
	rendered := make([]string, 0, len(a))
	for _, action := range a {
		rendered = append(rendered, action.String())
	}
	sort.Strings(rendered)

	return rendered
}

// ActionsFromInstructions flattens the instructions of a flow mod into a
// single action list.
func ActionsFromInstructions(instructions []ofp13.OfpInstruction) Actions {
	var actions Actions

	for _, instruction := range instructions {
		switch i := instruction.(type) {
		case *ofp13.OfpInstructionActions:
			if i.Header.Type == ofp13.OFPIT_CLEAR_ACTIONS {
				actions = append(actions, Action{Type: "clear_actions"})
				continue
			}
			for _, a := range i.Actions {
				if a == nil {
					continue
				}
				actions = append(actions, actionFromOFP13(a))
			}

		case *ofp13.OfpInstructionGotoTable:
			actions = append(actions, Action{Type: "goto_table", Value: strconv.Itoa(int(i.TableId))})

		case *ofp13.OfpInstructionWriteMetadata:
			actions = append(actions, Action{Type: "write_metadata", Value: fmt.Sprintf("0x%x/0x%x", i.Metadata, i.MetadataMask)})

		case *ofp13.OfpInstructionMeter:
			actions = append(actions, Action{Type: "meter", Value: strconv.Itoa(int(i.MeterId))})
		}
	}

	return actions
}

func actionFromOFP13(action ofp13.OfpAction) Action {
	switch a := action.(type) {
	case *ofp13.OfpActionOutput:
		return Action{Type: "output", Value: portString(a.Port)}

	case *ofp13.OfpActionGroup:
		return Action{Type: "group", Value: strconv.Itoa(int(a.GroupId))}

	case *ofp13.OfpActionSetQueue:
		return Action{Type: "set_queue", Value: strconv.Itoa(int(a.QueueId))}

	case *ofp13.OfpActionPush:
		return Action{Type: pushName(a.ActionHeader.Type), Value: fmt.Sprintf("0x%04x", a.EtherType)}

	case *ofp13.OfpActionPop:
		if a.ActionHeader.Type == ofp13.OFPAT_POP_MPLS {
			return Action{Type: "pop_mpls", Value: fmt.Sprintf("0x%04x", a.EtherType)}
		}
		if a.ActionHeader.Type == ofp13.OFPAT_POP_PBB {
			return Action{Type: "pop_pbb"}
		}
		return Action{Type: "pop_vlan"}

	case *ofp13.OfpActionSetNwTtl:
		return Action{Type: "set_nw_ttl", Value: strconv.Itoa(int(a.NwTtl))}

	case *ofp13.OfpActionDecNwTtl:
		return Action{Type: "dec_ttl"}

	case *ofp13.OfpActionSetMplsTtl:
		return Action{Type: "set_mpls_ttl", Value: strconv.Itoa(int(a.MplsTtl))}

	case *ofp13.OfpActionDecMplsTtl:
		return Action{Type: "dec_mpls_ttl"}

	case *ofp13.OfpActionCopyTtlOut:
		return Action{Type: "copy_ttl_out"}

	case *ofp13.OfpActionCopyTtlIn:
		return Action{Type: "copy_ttl_in"}

	case *ofp13.OfpActionSetField:
		return Action{Type: "set_field", Value: setFieldString(a.Oxm)}

	case *ofp13.OfpActionExperimenter:
		return Action{Type: "experimenter", Value: strconv.Itoa(int(a.Experimenter))}
	}

	return Action{Type: "unknown", Value: strconv.Itoa(int(action.OfpActionType()))}
}

func portString(port uint32) string {
	switch port {
	case ofp13.OFPP_IN_PORT:
		return "in_port"
	case ofp13.OFPP_TABLE:
		return "table"
	case ofp13.OFPP_NORMAL:
		return "normal"
	case ofp13.OFPP_FLOOD:
		return "flood"
	case ofp13.OFPP_ALL:
		return "all"
	case ofp13.OFPP_CONTROLLER:
		return "controller"
	case ofp13.OFPP_LOCAL:
		return "local"
	case ofp13.OFPP_ANY:
		return "any"
	}

	return strconv.FormatUint(uint64(port), 10)
}

func pushName(actionType uint16) string {
	switch actionType {
	case ofp13.OFPAT_PUSH_MPLS:
		return "push_mpls"
	case ofp13.OFPAT_PUSH_PBB:
		return "push_pbb"
	}

	return "push_vlan"
}

func setFieldString(oxm ofp13.OxmField) string {
	if oxm == nil {
		return ""
	}

	switch f := oxm.(type) {
	case *ofp13.OxmVlanVid:
		return fmt.Sprintf("%d->vlan_vid", f.Value&0x0fff)
	case *ofp13.OxmVlanPcp:
		return fmt.Sprintf("%d->vlan_pcp", f.Value)
	case *ofp13.OxmEth:
		if f.OxmField() == ofp13.OFPXMT_OFB_ETH_SRC {
			return fmt.Sprintf("%s->eth_src", f.Value)
		}
		return fmt.Sprintf("%s->eth_dst", f.Value)
	case *ofp13.OxmIpv4:
		if f.OxmField() == ofp13.OFPXMT_OFB_IPV4_SRC {
			return fmt.Sprintf("%s->ip_src", f.Value)
		}
		return fmt.Sprintf("%s->ip_dst", f.Value)
	case *ofp13.OxmTcp:
		if f.OxmField() == ofp13.OFPXMT_OFB_TCP_SRC {
			return fmt.Sprintf("%d->tcp_src", f.Value)
		}
		return fmt.Sprintf("%d->tcp_dst", f.Value)
	case *ofp13.OxmUdp:
		if f.OxmField() == ofp13.OFPXMT_OFB_UDP_SRC {
			return fmt.Sprintf("%d->udp_src", f.Value)
		}
		return fmt.Sprintf("%d->udp_dst", f.Value)
	}

	packet := oxm.Serialize()
	if len(packet) > 4 {
		packet = packet[4:]
	}
	return fmt.Sprintf("0x%x->field%d", packet, oxm.OxmField())
}
