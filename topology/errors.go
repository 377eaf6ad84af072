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
	"errors"
	"fmt"
)

// ConfigError is a configuration problem scoped to one slice and/or switch.
// The rest of the document still resolves.
type ConfigError struct {
	Slice  string
	Switch string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Slice != "" && e.Switch != "":
		return fmt.Sprintf("slice %q switch %q: %v", e.Slice, e.Switch, e.Err)
	case e.Slice != "":
		return fmt.Sprintf("slice %q: %v", e.Slice, e.Err)
	case e.Switch != "":
		return fmt.Sprintf("switch %q: %v", e.Switch, e.Err)
	}

	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// OverlapError reports two slices sharing a (port, VLAN) on one switch.
type OverlapError struct {
	Slice string
	Other string
	DPID  uint64
	Port  string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("slice %q overlaps slice %q on switch %s port %q",
		e.Slice, e.Other, FormatDPID(e.DPID), e.Port)
}

// DocumentError is a failure of the whole document: unreadable, malformed or
// rejected by the schema. The topology returned with it is empty.
type DocumentError struct {
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("invalid topology document: %v", e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err contains a document level failure.
func IsFatal(err error) bool {
	var docErr *DocumentError
	return errors.As(err, &docErr)
}
