// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/docpipe/pkg/config"
)

// SchemaCmd generates JSON Schema from the config structs. Output goes
// to stdout so it can be redirected.
type SchemaCmd struct {
	// Compact enables compact JSON output (no indentation)
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

// Run executes the schema generation command.
func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		// Disallow additional properties for strict validation
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref)
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://github.com/kadirpekel/docpipe/schemas/config.json"
	schema.Title = "Docpipe Configuration Schema"
	schema.Description = "Complete configuration schema for the docpipe processing pipeline"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"sources": map[string]interface{}{
				"usaid": map[string]interface{}{
					"collection": "usaid_chunks",
					"downloader": map[string]interface{}{
						"command": "scripts/download_usaid.sh",
						"args":    []string{"--data-dir", "{data_dir}", "--num-records", "{num_records}"},
					},
				},
			},
			"pipeline": map[string]interface{}{
				"workers": 4,
			},
			"embedding": map[string]interface{}{
				"mode": "remote",
				"url":  "http://localhost:8080",
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	return nil
}
