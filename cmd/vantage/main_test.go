package main

import "testing"

func TestRootCmdHasSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := map[string]bool{"serve": false, "migrate": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestVersionString(t *testing.T) {
	root := buildRootCmd()
	if root.Version == "" {
		t.Error("version not set")
	}
}
