package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Diff(t *testing.T) {
	tests := []struct {
		payload  Payload
		base     Payload
		name     string
		expected []string
	}{
		{
			name:     "identical",
			payload:  Payload{"title": "A", "n": 1.0},
			base:     Payload{"title": "A", "n": 1.0},
			expected: []string{},
		},
		{
			name:     "changed and added",
			payload:  Payload{"title": "B", "description": "x"},
			base:     Payload{"title": "A"},
			expected: []string{"description", "title"},
		},
		{
			name:     "removed key counts as changed",
			payload:  Payload{"title": "A"},
			base:     Payload{"title": "A", "tags": []any{"x"}},
			expected: []string{"tags"},
		},
		{
			name:     "nil base",
			payload:  Payload{"b": true, "a": "x"},
			base:     nil,
			expected: []string{"a", "b"},
		},
		{
			name:     "int and float are equal",
			payload:  Payload{"n": 3},
			base:     Payload{"n": 3.0},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.payload.Diff(tt.base))
		})
	}
}

func TestPayload_EqualAndClone(t *testing.T) {
	p := Payload{"title": "A", "meta": map[string]any{"k": []any{"v"}}}
	c := p.Clone()
	require.True(t, p.Equal(c))

	c["meta"].(map[string]any)["k"] = []any{"changed"}
	assert.False(t, p.Equal(c), "clone must not share nested values")
	assert.Equal(t, []any{"v"}, p["meta"].(map[string]any)["k"])

	assert.Nil(t, Payload(nil).Clone())
	assert.Equal(t, []string{"meta", "title"}, p.Keys())
}

func TestPayload_LargeIntegers(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"ref":9007199254740993,"n":3,"f":1.5,"huge":123456789012345678901234,"nested":{"ids":[9007199254740993,2]}}`), &p))

	assert.Equal(t, json.Number("9007199254740993"), p["ref"])
	assert.Equal(t, 3.0, p["n"])
	assert.Equal(t, 1.5, p["f"])
	assert.Equal(t, json.Number("123456789012345678901234"), p["huge"])
	assert.Equal(t, []any{json.Number("9007199254740993"), 2.0}, p["nested"].(map[string]any)["ids"])

	data, err := json.Marshal(p.Clone())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ref":9007199254740993,"n":3,"f":1.5,"huge":123456789012345678901234,"nested":{"ids":[9007199254740993,2]}}`, string(data))
	assert.Contains(t, string(data), "9007199254740993")

	var null Payload
	require.NoError(t, json.Unmarshal([]byte(`null`), &null))
	assert.Nil(t, null)
}

func TestValuesEqual_Numbers(t *testing.T) {
	tests := []struct {
		name  string
		a, b  any
		equal bool
	}{
		{name: "number and float", a: json.Number("3"), b: 3.0, equal: true},
		{name: "number forms", a: json.Number("3.0"), b: json.Number("3"), equal: true},
		{name: "int and number", a: 7, b: json.Number("7"), equal: true},
		{name: "large integers differ by one", a: json.Number("9007199254740993"), b: json.Number("9007199254740992"), equal: false},
		{name: "large integer and its float", a: json.Number("9007199254740993"), b: float64(9007199254740992), equal: false},
		{name: "number and string", a: json.Number("3"), b: "3", equal: false},
		{name: "strings", a: "x", b: "x", equal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, ValuesEqual(tt.a, tt.b))
			assert.Equal(t, tt.equal, ValuesEqual(tt.b, tt.a))
		})
	}

	p := Payload{"ref": json.Number("9007199254740993")}
	assert.Equal(t, []string{"ref"}, p.Diff(Payload{"ref": json.Number("9007199254740992")}))
	assert.Empty(t, p.Diff(Payload{"ref": json.Number("9007199254740993")}))
}

func TestChangeFromEntity(t *testing.T) {
	now := time.Now().UTC()

	created := &Entity{UserID: "u", Type: "task", ID: "1", Payload: Payload{"title": "A"}, SyncVersion: 3, CreatedVersion: 3, UpdatedAt: now}
	ch := ChangeFromEntity(created)
	assert.Equal(t, OpCreate, ch.Op)
	assert.Equal(t, uint64(3), ch.SyncVersion)
	assert.Equal(t, "A", ch.Payload["title"])

	updated := created.Clone()
	updated.SyncVersion = 5
	assert.Equal(t, OpUpdate, ChangeFromEntity(updated).Op)

	deleted := updated.Clone()
	deleted.DeletedAt = &now
	ch = ChangeFromEntity(deleted)
	assert.Equal(t, OpDelete, ch.Op)
	assert.Nil(t, ch.Payload)
	require.NotNil(t, ch.DeletedAt)
	assert.Equal(t, now, *ch.DeletedAt)
}
