// Copyright 2024 The Update Framework Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trustedupdates/tufcore/metadata/signer"
)

// RoleKeysConfig names the key sources --config declares for one role,
// used as a fallback when the matching repeatable key flag
// (--key/--snapshot-key/--timestamp-key) was not given on the command line.
type RoleKeysConfig struct {
	Keys []string `yaml:"keys"`
}

// EditorConfig is the schema for --config: a YAML file mapping role name to
// its default key sources, so a repository's signing keys can be declared
// once instead of repeated across every `tuf create`/`tuf update` invocation.
type EditorConfig struct {
	Roles map[string]RoleKeysConfig `yaml:"roles"`
}

// loadEditorConfig reads path, or returns an empty config if path is "":
// --config is always optional, every role can still be set via flags alone.
func loadEditorConfig(path string) (*EditorConfig, error) {
	if path == "" {
		return &EditorConfig{Roles: map[string]RoleKeysConfig{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg EditorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errUsage("invalid --config %s: %s", path, err)
	}
	if cfg.Roles == nil {
		cfg.Roles = map[string]RoleKeysConfig{}
	}
	return &cfg, nil
}

// resolveRoleKeys parses explicit (repeatable key flag values) when any were
// given; otherwise it falls back to cfg's declared keys for roleName. A
// roleName with neither source resolves to an empty, error-free KeySource
// list, since not every role a config names needs a flag-level override and
// not every command requires every role to be signed.
func resolveRoleKeys(cfg *EditorConfig, roleName string, explicit []string) ([]signer.KeySource, error) {
	raw := explicit
	if len(raw) == 0 && cfg != nil {
		raw = cfg.Roles[roleName].Keys
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return parseKeys(raw)
}
