//go:build !integration

package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

// TestShortDescriptionConsistency checks that Short descriptions follow CLI
// convention and carry no trailing punctuation.
func TestShortDescriptionConsistency(t *testing.T) {
	for _, cmd := range allCommands() {
		t.Run("command "+cmd.Name()+" has no trailing punctuation", func(t *testing.T) {
			short := cmd.Short
			if short == "" {
				t.Skip("Command has no Short description")
			}
			last := short[len(short)-1:]
			assert.NotContains(t, []string{".", "!", "?"}, last,
				"Short description of %q should not end with punctuation: %q", cmd.Name(), short)
		})
	}
}

// TestLongDescriptionHasSentences checks that Long descriptions, unlike
// Short ones, are written as sentences.
func TestLongDescriptionHasSentences(t *testing.T) {
	for _, cmd := range allCommands() {
		if cmd.Long == "" {
			continue
		}
		t.Run("command "+cmd.Name(), func(t *testing.T) {
			firstParagraph, _, _ := strings.Cut(cmd.Long, "\n\n")
			assert.True(t, strings.HasSuffix(strings.TrimSpace(firstParagraph), "."),
				"first paragraph of %q should end with a period", cmd.Name())
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"compile", "validate", "plan", "run", "watch", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	verbose := rootCmd.PersistentFlags().Lookup("verbose")
	if assert.NotNil(t, verbose, "root should define --verbose") {
		assert.Equal(t, "v", verbose.Shorthand)
	}
}

func allCommands() []*cobra.Command {
	return []*cobra.Command{rootCmd, compileCmd, validateCmd, planCmd, runCmd, watchCmd, versionCmd}
}
