package main

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestParseArguments(t *testing.T) {
	got := parseArguments([]string{"3", "hello", `"quoted"`, `{"a":1}`, "[1,2]", "true"})
	assert.Equal(t, []any{3.0, "hello", "quoted", map[string]any{"a": 1.0}, []any{1.0, 2.0}, true}, got)
	assert.Empty(t, parseArguments(nil))
}

func TestToJSON(t *testing.T) {
	assert.Equal(t, json.RawMessage(`{"x":1}`), toJSON(`{"x":1}`))
	assert.Equal(t, json.RawMessage(`"plain text"`), toJSON("plain text"))
}

func TestInstanceSummary(t *testing.T) {
	assert.Equal(t, "-", instanceSummary(nil))
	assert.Equal(t, "whisper/small=warm, whisper=busy", instanceSummary([]types.Instance{
		{Key: types.InstanceKey{Decider: "whisper", Parameter: "small"}, State: types.InstanceWarm},
		{Key: types.InstanceKey{Decider: "whisper"}, State: types.InstanceBusy},
	}))
}

func TestRootCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "submit", "job", "jobs", "push", "updates", "deciders", "install", "selftest", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
