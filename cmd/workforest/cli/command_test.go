// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesToNestedSubcommand(t *testing.T) {
	t.Parallel()

	var called string
	var receivedArgs []string
	root := &Command{
		Name: "workforest",
		Subcommands: []*Command{
			{
				Name: "agent",
				Subcommands: []*Command{
					{
						Name: "create",
						Run: func(_ context.Context, args []string, _ *slog.Logger) error {
							called = "agent create"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"agent", "create", "myrepo"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "agent create" {
		t.Errorf("dispatched to %q, want %q", called, "agent create")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "myrepo" {
		t.Errorf("args = %v, want [myrepo]", receivedArgs)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	t.Parallel()

	var params struct {
		Branch string `flag:"branch,b" desc:"branch name"`
		JSONOutput
	}
	var receivedArgs []string
	command := &Command{
		Name: "create",
		Flags: func() *pflag.FlagSet {
			return FlagsFromParams("create", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			receivedArgs = args
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"myrepo", "-b", "feature", "--json"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if params.Branch != "feature" || !params.OutputJSON {
		t.Errorf("params = %+v", params)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "myrepo" {
		t.Errorf("args = %v, want [myrepo]", receivedArgs)
	}
}

func TestExecuteUnknownCommandSuggests(t *testing.T) {
	t.Parallel()

	root := &Command{
		Name: "workforest",
		Subcommands: []*Command{
			{Name: "agent", Run: func(context.Context, []string, *slog.Logger) error { return nil }},
			{Name: "repo", Run: func(context.Context, []string, *slog.Logger) error { return nil }},
		},
	}

	err := root.Execute(context.Background(), []string{"agnet"})
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "agent"`) {
		t.Errorf("error = %q, want a suggestion for agent", err)
	}
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Errorf("error is %T, want *UsageError", err)
	}
	if ExitCode(err) != ExitUsage {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitUsage)
	}

	err = root.Execute(context.Background(), []string{"zzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for a distant name", err)
	}
}

func TestExecuteUnknownFlagSuggests(t *testing.T) {
	t.Parallel()

	var params struct {
		Grace string `flag:"grace" desc:"stop grace"`
	}
	command := &Command{
		Name: "stop",
		Flags: func() *pflag.FlagSet {
			return FlagsFromParams("stop", &params)
		},
		Run: func(context.Context, []string, *slog.Logger) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--grase", "5s"})
	if err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --grace?") {
		t.Errorf("error = %q, want a suggestion for --grace", err)
	}
}

func TestExecuteGroupWithoutSubcommand(t *testing.T) {
	t.Parallel()

	root := &Command{
		Name:        "workforest",
		Subcommands: []*Command{{Name: "repo"}},
	}
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Error("expected an error when no subcommand is given")
	}
	if err := root.Execute(context.Background(), []string{"--help"}); err != nil {
		t.Errorf("--help returned %v", err)
	}
}

func TestExecutePropagatesRunError(t *testing.T) {
	t.Parallel()

	want := &ExitError{Code: 4}
	command := &Command{
		Name: "status",
		Run:  func(context.Context, []string, *slog.Logger) error { return want },
	}
	err := command.Execute(context.Background(), nil)
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want the Run error", err)
	}
	if ExitCode(err) != 4 {
		t.Errorf("exit code = %d, want 4", ExitCode(err))
	}
}

func TestPrintHelp(t *testing.T) {
	t.Parallel()

	var params struct {
		Tool string `flag:"tool" desc:"agent tool"`
	}
	root := &Command{Name: "workforest"}
	command := &Command{
		Name:        "create",
		Summary:     "Create an agent",
		Description: "Create an agent with its own worktree.",
		Examples: []Example{
			{Description: "Create an agent on a new branch", Command: "workforest agent create myrepo --branch feature"},
		},
		Flags: func() *pflag.FlagSet {
			return FlagsFromParams("create", &params)
		},
		parent: root,
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	help := buffer.String()
	for _, want := range []string{
		"Create an agent with its own worktree.",
		"workforest create [flags]",
		"--tool",
		"agent tool",
		"# Create an agent on a new branch",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"agent", "agent", 0},
		{"agnet", "agent", 2},
		{"stat", "status", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}
