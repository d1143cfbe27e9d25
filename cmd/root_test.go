package cmd

import (
	"testing"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "version": false}
	for _, sub := range rootCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("root command is missing the %q subcommand", name)
		}
	}
}

func TestServeFailsFastWithoutConfig(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	t.Setenv("SESSION_SECRET", "")

	if err := runServe(); err == nil {
		t.Fatal("serve must refuse to start without required configuration")
	}
}
