package main

import (
	"testing"
)

// TestMain_CreateRootCommand validates that the root command is properly
// configured with all expected flags and subcommands.
func TestMain_CreateRootCommand(t *testing.T) {
	root := createRootCommand()

	if root == nil {
		t.Fatal("createRootCommand returned nil")
	}
	if root.Use != "conda-ops" {
		t.Errorf("expected Use to be 'conda-ops', got %q", root.Use)
	}
	if root.Short == "" {
		t.Error("Short description should not be empty")
	}
	if root.Long == "" {
		t.Error("Long description should not be empty")
	}

	if f := root.PersistentFlags().Lookup("log-level"); f == nil {
		t.Error("expected persistent flag --log-level to be registered")
	}

	expectedCommands := map[string]bool{
		"init":     false,
		"add":      false,
		"remove":   false,
		"status":   false,
		"lockfile": false,
		"env":      false,
		"version":  false,
	}
	for _, cmd := range root.Commands() {
		if _, exists := expectedCommands[cmd.Name()]; exists {
			expectedCommands[cmd.Name()] = true
		}
	}
	for name, found := range expectedCommands {
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestMain_LockfileSubcommands(t *testing.T) {
	lockfileCmd := createLockfileCommand()

	names := map[string]bool{}
	for _, cmd := range lockfileCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"generate", "check"} {
		if !names[want] {
			t.Errorf("expected lockfile subcommand %q to be registered", want)
		}
	}

	generate, _, err := lockfileCmd.Find([]string{"generate"})
	if err != nil {
		t.Fatalf("finding generate subcommand: %v", err)
	}
	if f := generate.Flags().Lookup("in-place"); f == nil {
		t.Error("expected flag --in-place on lockfile generate")
	}
}

func TestMain_EnvSubcommands(t *testing.T) {
	envCmd := createEnvCommand()

	names := map[string]bool{}
	for _, cmd := range envCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"create", "install", "delete", "regenerate", "check", "activate", "deactivate"} {
		if !names[want] {
			t.Errorf("expected env subcommand %q to be registered", want)
		}
	}
}

func TestMain_AddCommandFlags(t *testing.T) {
	addCmd := createAddCommand()

	f := addCmd.Flags().Lookup("channel")
	if f == nil {
		t.Fatal("expected flag --channel on add")
	}
	if f.Shorthand != "c" {
		t.Errorf("expected shorthand 'c' for --channel, got %q", f.Shorthand)
	}
}
