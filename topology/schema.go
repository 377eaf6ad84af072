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
	"embed"
	"fmt"

	"github.com/jacoelho/xsd"
)

//go:embed schema/fsf.xsd
var schemaFS embed.FS

// DefaultSchema returns the schema of the document layout Resolve understands.
func DefaultSchema() (*xsd.Schema, error) {
	schema, err := xsd.Load(schemaFS, "schema/fsf.xsd")
	if err != nil {
		return nil, fmt.Errorf("error loading built-in schema: %w", err)
	}

	return schema, nil
}

// LoadSchema loads an operator supplied schema. An empty path selects the
// built-in one.
func LoadSchema(path string) (*xsd.Schema, error) {
	if path == "" {
		return DefaultSchema()
	}

	schema, err := xsd.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error loading schema %q: %w", path, err)
	}

	return schema, nil
}
