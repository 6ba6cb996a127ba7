package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsEqual(t *testing.T) {
	a := []Row{{"name": "ada"}, {"name": "lin"}}
	b := []Row{{"name": "ada"}, {"name": "lin"}}
	assert.True(t, RowsEqual(a, b))

	assert.False(t, RowsEqual(a, []Row{{"name": "ada"}}))
	assert.False(t, RowsEqual(a, []Row{{"name": "ada"}, {"name": "bob"}}))
	assert.True(t, RowsEqual(nil, nil))
	assert.True(t, RowsEqual(nil, []Row{}))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(map[string]any{"code": "42"}, map[string]any{"code": "42"}))
	assert.False(t, ValuesEqual(map[string]any{"code": "42"}, map[string]any{"code": "43"}))
	assert.True(t, ValuesEqual(nil, nil))
}

func TestMarshalPayloadEnvelope(t *testing.T) {
	msg := Message{
		Topic:   "errors",
		IsError: true,
		Payload: map[string]any{"code": "42", "msg": "boom"},
	}
	raw, err := msg.MarshalPayload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"is_error":true,"is_warning":false,"message":{"code":"42","msg":"boom"}}`, string(raw))
}

func TestMarshalPayloadRowList(t *testing.T) {
	msg := Message{Topic: "audit", Payload: []Row{{"name": "ada"}}}
	raw, err := msg.MarshalPayload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"is_error":false,"is_warning":false,"message":[{"name":"ada"}]}`, string(raw))
}
