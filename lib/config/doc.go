// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for workforest.
//
// Configuration comes from at most one file, chosen by the --config
// flag or else the WORKFOREST_CONFIG environment variable (see
// [Resolve]). With neither set, [Default] applies: data under
// $XDG_DATA_HOME/workforest and the repository list at
// $XDG_CONFIG_HOME/workforest/repos.toml. There is no file search
// beyond that.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${WORKFOREST_ROOT}, and ${VAR:-default} patterns are
// expanded. No environment variable overrides a value set in the file.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Daemon, and LogLevel
//   - [Default] -- a Config with every default filled in
//   - [Resolve], [Load], and [LoadFile] -- the entry points for loading
//
// This package depends on no other workforest packages.
package config
