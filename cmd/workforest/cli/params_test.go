// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/lib/schema"
)

func TestBindFlagsTypesAndDefaults(t *testing.T) {
	t.Parallel()

	type params struct {
		DaemonConfig
		Branch   string        `flag:"branch,b" desc:"branch"`
		Strip    bool          `flag:"strip" desc:"strip ANSI" default:"true"`
		Since    int           `flag:"since" desc:"offset"`
		Seconds  float64       `flag:"seconds" desc:"seconds" default:"1.5"`
		Grace    time.Duration `flag:"grace" desc:"grace" default:"10s"`
		Tools    []string      `flag:"tool" desc:"tools"`
		Untagged string
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if !p.Strip || p.Seconds != 1.5 || p.Grace != 10*time.Second {
		t.Errorf("defaults not applied: %+v", p)
	}

	err := flagSet.Parse([]string{
		"--config", "/etc/workforest.yaml",
		"-b", "feature",
		"--strip=false",
		"--since", "128",
		"--grace", "2m",
		"--tool", "claude,codex",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.ConfigPath != "/etc/workforest.yaml" {
		t.Errorf("ConfigPath = %q", p.ConfigPath)
	}
	if p.Branch != "feature" || p.Strip || p.Since != 128 || p.Grace != 2*time.Minute {
		t.Errorf("parsed params = %+v", p)
	}
	if len(p.Tools) != 2 || p.Tools[0] != "claude" || p.Tools[1] != "codex" {
		t.Errorf("Tools = %v", p.Tools)
	}
	if flagSet.Lookup("untagged") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlagsRejectsBadInput(t *testing.T) {
	t.Parallel()

	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(struct{}{}, flagSet); err == nil {
		t.Error("non-pointer params accepted")
	}

	var unsupported struct {
		Limit uint8 `flag:"limit"`
	}
	if err := BindFlags(&unsupported, flagSet); err == nil || !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("error = %v, want unsupported type", err)
	}

	var badDefault struct {
		Grace time.Duration `flag:"grace" default:"soon"`
	}
	if err := BindFlags(&badDefault, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("malformed default accepted")
	}
}

func TestWriteJSONNormalizesNilSlices(t *testing.T) {
	t.Parallel()

	var agents []schema.Agent
	var buffer bytes.Buffer
	if err := WriteJSON(&buffer, normalizeNilSlice(agents)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if strings.TrimSpace(buffer.String()) != "[]" {
		t.Errorf("output = %q, want []", buffer.String())
	}

	output := JSONOutput{}
	if done, err := output.EmitJSON(agents); done || err != nil {
		t.Errorf("EmitJSON without --json = (%v, %v), want (false, nil)", done, err)
	}
}

func TestExitCodeMapping(t *testing.T) {
	t.Parallel()

	if code := ExitCode(schema.Errorf(schema.KindAlreadyRunning, "running")); code != 3 {
		t.Errorf("already running exit code = %d, want 3", code)
	}
	if code := ExitCode(schema.Errorf(schema.KindNotFound, "missing")); code != 1 {
		t.Errorf("not found exit code = %d, want 1", code)
	}
	if code := ExitCode(Validation("bad input")); code != ExitUsage {
		t.Errorf("usage exit code = %d, want %d", code, ExitUsage)
	}
}
