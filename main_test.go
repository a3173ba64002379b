package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "actions.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"actions":[
		{"name":"jump","schema":{"type":"object","properties":{"height":{"type":"integer"}},"required":["height"]}},
		{"name":"duck","disabled":true}
	]}`), 0o644))
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"actions":[{"name":"x","schema":{"type":"banana"}}]}`), 0o644))

	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"Manifest Only", []string{"validate", manifest, "--action", "", "--params", ""}, ""},
		{"Valid Params", []string{"validate", manifest, "--action", "jump", "--params", `{"height":2}`}, ""},
		{"Invalid Params", []string{"validate", manifest, "--action", "jump", "--params", `{"height":"high"}`}, "params do not match"},
		{"Unknown Action", []string{"validate", manifest, "--action", "fly", "--params", `{}`}, "unknown action"},
		{"Broken Schema", []string{"validate", broken}, "invalid manifest"},
		{"Missing Argument", []string{"validate"}, "accepts 1 arg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rootCmd.SetArgs(tc.args)
			err := rootCmd.Execute()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
