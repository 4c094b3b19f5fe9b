// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/culvert/internal/event"
)

func TestDirectCopy(t *testing.T) {
	m, err := New(map[string]any{"to1": "from1"})
	require.NoError(t, err)

	out := m.Apply(event.Record{"from1": "x"})
	assert.Equal(t, event.Record{"to1": "x"}, out)
}

func TestMissingSourceSkipped(t *testing.T) {
	m, err := New(map[string]any{"to1": "from1"})
	require.NoError(t, err)

	out := m.Apply(event.Record{})
	assert.Equal(t, event.Record{}, out)
}

func TestEmptyConfigPassesThrough(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	in := event.Record{"a": 1, "b": "two"}
	assert.Equal(t, in, m.Apply(in))
}

func TestRegexExtraction(t *testing.T) {
	m, err := New(map[string]any{
		"host": []any{"source", `^[^@]+@(.*)$`, "$1"},
	})
	require.NoError(t, err)

	out := m.Apply(event.Record{"source": "svc@node-17"})
	assert.Equal(t, event.Record{"host": "node-17"}, out)
}

func TestMixedRules(t *testing.T) {
	m, err := New(map[string]any{
		"message": "msg",
		"code":    []any{"status", `(\d+)`, "$1"},
	})
	require.NoError(t, err)

	out := m.Apply(event.Record{"msg": "hello", "status": "code=503"})
	assert.Equal(t, "hello", out["message"])
	assert.Equal(t, "code=503", out["code"])

	out = m.Apply(event.Record{"msg": "hello"})
	assert.Equal(t, event.Record{"message": "hello"}, out)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(map[string]any{"to1": 17})
	assert.Error(t, err)

	_, err = New(map[string]any{"to1": []any{"from1", "("}})
	assert.Error(t, err)

	_, err = New(map[string]any{"to1": []any{"from1", "(", "$1"}})
	assert.Error(t, err)
}
