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
	"fmt"
	"strconv"
	"strings"
)

// ParseDPID parses a datapath id written as colon separated hex
// ("00:00:00:00:00:00:00:01"), 0x-prefixed hex or plain hex.
func ParseDPID(s string) (uint64, error) {
	hex := strings.TrimSpace(s)
	hex = strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")

	if strings.Contains(hex, ":") {
		octets := strings.Split(hex, ":")
		if len(octets) > 8 {
			return 0, fmt.Errorf("invalid dpid %q: more than 8 octets", s)
		}
		for i, octet := range octets {
			if len(octet) == 0 || len(octet) > 2 {
				return 0, fmt.Errorf("invalid dpid %q: bad octet %q", s, octet)
			}
			if len(octet) == 1 {
				octets[i] = "0" + octet
			}
		}
		hex = strings.Join(octets, "")
	}

	if len(hex) == 0 || len(hex) > 16 {
		return 0, fmt.Errorf("invalid dpid %q", s)
	}

	dpid, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid dpid %q: %w", s, err)
	}

	return dpid, nil
}

// FormatDPID renders dpid as eight colon separated octets.
func FormatDPID(dpid uint64) string {
	var b strings.Builder
	for i := 7; i >= 0; i-- {
		fmt.Fprintf(&b, "%02x", byte(dpid>>(uint(i)*8)))
		if i > 0 {
			b.WriteByte(':')
		}
	}

	return b.String()
}
