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

package slicer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

const (
	// MaxVLAN is the number of VLAN tags addressable by the 12 bit VID field.
	MaxVLAN = 4096
)

var (
	ErrVLANOutOfRange = errors.New("vlan tag out of range")
	ErrSealed         = errors.New("entitlement is sealed and can no longer be modified")
)

// VLANRange holds which of the 4096 VLAN tags are available to a slice on a
// single port.
type VLANRange struct {
	tags   *bitset.BitSet
	sealed bool
}

func NewVLANRange() *VLANRange {
	return &VLANRange{
		tags: bitset.New(MaxVLAN),
	}
}

func (v *VLANRange) SetAvailable(tag int, available bool) error {
	if v.sealed {
		return ErrSealed
	}

	if tag < 0 || tag >= MaxVLAN {
		return fmt.Errorf("%w: %d", ErrVLANOutOfRange, tag)
	}

	v.tags.SetTo(uint(tag), available)
	return nil
}

// IsAvailable reports whether tag is assigned. Tags outside [0, 4095] are
// never available.
func (v *VLANRange) IsAvailable(tag int) bool {
	if v == nil || tag < 0 || tag >= MaxVLAN {
		return false
	}

	return v.tags.Test(uint(tag))
}

// AddRange marks the half-open interval [start, end) as available.
func (v *VLANRange) AddRange(start, end int) error {
	if start < 0 || end > MaxVLAN || start > end {
		return fmt.Errorf("%w: [%d,%d)", ErrVLANOutOfRange, start, end)
	}

	for tag := start; tag < end; tag++ {
		if err := v.SetAvailable(tag, true); err != nil {
			return err
		}
	}

	return nil
}

func (v *VLANRange) Count() int {
	return int(v.tags.Count())
}

func (v *VLANRange) Equal(other *VLANRange) bool {
	if v == nil || other == nil {
		return v == other
	}

	return v.tags.Equal(other.tags)
}

// Intersects reports whether at least one tag is available in both ranges.
func (v *VLANRange) Intersects(other *VLANRange) bool {
	if v == nil || other == nil {
		return false
	}

	return v.tags.IntersectionCardinality(other.tags) > 0
}

// Ranges returns the available tags compressed into half-open intervals.
func (v *VLANRange) Ranges() [][2]int {
	var ranges [][2]int

	i, ok := v.tags.NextSet(0)
	for ok && i < MaxVLAN {
		start := i
		for ok && i < MaxVLAN && v.tags.Test(i) {
			i++
		}
		ranges = append(ranges, [2]int{int(start), int(i)})
		i, ok = v.tags.NextSet(i)
	}

	return ranges
}

func (v *VLANRange) String() string {
	var parts []string
	for _, r := range v.Ranges() {
		if r[1]-r[0] == 1 {
			parts = append(parts, fmt.Sprintf("%d", r[0]))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d-%d", r[0], r[1]-1))
	}

	return strings.Join(parts, ",")
}

func (v *VLANRange) seal() {
	v.sealed = true
}
