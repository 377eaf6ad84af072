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

package admission

import (
	"github.com/Kmotiko/gofc/ofprotocol/ofp13"
)

type Verdict int

const (
	Accept Verdict = iota
	// DenyEntitlement: the slice is not entitled to the port/VLAN, or has no
	// entitlement on the switch at all.
	DenyEntitlement
	// DenySanitizer: the switch reject policy vetoed the request.
	DenySanitizer
	DenyFlowLimit
	DenyFlowRate
)

var verdictNames = map[Verdict]string{
	Accept:          "accept",
	DenyEntitlement: "deny_entitlement",
	DenySanitizer:   "deny_sanitizer",
	DenyFlowLimit:   "deny_flow_limit",
	DenyFlowRate:    "deny_flow_rate",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}

	return "unknown"
}

// ErrorCode is the OpenFlow error type and code reported to the controller
// whose request was denied.
func (v Verdict) ErrorCode() (uint16, uint16) {
	switch v {
	case Accept:
		return 0, 0
	case DenyFlowLimit:
		return ofp13.OFPET_FLOW_MOD_FAILED, ofp13.OFPFMFC_TABLE_FULL
	}

	return ofp13.OFPET_FLOW_MOD_FAILED, ofp13.OFPFMFC_EPERM
}

type Decision struct {
	Verdict Verdict
	Reason  string
	// Charged is set when an accepted add was accounted as a new flow.
	Charged bool
}

func (d Decision) Accepted() bool {
	return d.Verdict == Accept
}

func (d Decision) String() string {
	if d.Reason == "" {
		return d.Verdict.String()
	}

	return d.Verdict.String() + ": " + d.Reason
}

func accept() Decision {
	return Decision{Verdict: Accept}
}

func charged() Decision {
	return Decision{Verdict: Accept, Charged: true}
}

func deny(verdict Verdict, reason string) Decision {
	return Decision{Verdict: verdict, Reason: reason}
}
