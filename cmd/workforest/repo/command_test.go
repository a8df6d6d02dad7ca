// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"testing"

	"github.com/bureau-foundation/workforest/lib/schema"
)

func TestFormatToolsMarksDefault(t *testing.T) {
	t.Parallel()

	repository := schema.Repository{Tools: []string{"claude", "codex"}, DefaultTool: "codex"}
	if got := formatTools(repository); got != "claude,codex*" {
		t.Errorf("formatTools = %q, want %q", got, "claude,codex*")
	}
	if got := formatTools(schema.Repository{}); got != "" {
		t.Errorf("formatTools(empty) = %q", got)
	}
}

func TestCommandTree(t *testing.T) {
	t.Parallel()

	command := Command()
	names := map[string]bool{}
	for _, sub := range command.Subcommands {
		names[sub.Name] = true
		if sub.Flags == nil || sub.Flags().Lookup("config") == nil {
			t.Errorf("%s has no --config flag", sub.Name)
		}
	}
	for _, want := range []string{"add", "list", "remove"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}
