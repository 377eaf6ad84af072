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
	"bytes"
	"fmt"
	"io"
)

// FlowsBuffer collects rendered flows, one per line.
type FlowsBuffer struct {
	buffer *bytes.Buffer
}

func NewFlowsBuffer() *FlowsBuffer {
	buffer := bytes.NewBuffer(nil)

	return &FlowsBuffer{
		buffer: buffer,
	}
}

func (f *FlowsBuffer) AddFlow(flow fmt.Stringer) {
	f.buffer.WriteString(flow.String())
	f.buffer.WriteByte('\n')
}

// AddLine writes a free form line, used for section headers.
func (f *FlowsBuffer) AddLine(format string, args ...interface{}) {
	fmt.Fprintf(f.buffer, format, args...)
	f.buffer.WriteByte('\n')
}

func (f *FlowsBuffer) String() string {
	return f.buffer.String()
}

func (f *FlowsBuffer) Reset() {
	f.buffer.Reset()
}

func (f *FlowsBuffer) WriteTo(w io.Writer) (int64, error) {
	return f.buffer.WriteTo(w)
}
