package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced", "Here you go:\n```sql\nSELECT 1\n```\nThanks", "SELECT 1"},
		{"plain fence", "```\nSELECT 2;\n```", "SELECT 2;"},
		{"no fence", "  SELECT 3  ", "SELECT 3"},
		{"prose stays opaque", "I cannot answer that.", "I cannot answer that."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSQL(tt.in))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	got, err := ExtractJSONObject("```json\n{\"a\": {\"b\": 1}}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}}`, got)

	_, err = ExtractJSONObject("no json here")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	_, err = ExtractJSONObject("} backwards {")
	assert.Error(t, err)
}

func TestDecodeObject(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, DecodeObject(`{"a": 1}`, &v))
	assert.Equal(t, 1, v.A)

	assert.Error(t, DecodeObject(`{"a": 1, "b": 2}`, &v))
	assert.Error(t, DecodeObject(`{"a": 1} {"a": 2}`, &v))
	assert.Error(t, DecodeObject(`{"a": "x"}`, &v))
}

func TestParseEvaluation(t *testing.T) {
	res, err := ParseEvaluation("```json\n{\"approved\": false, \"reason\": \" Bars should be sorted \"}\n```")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "Bars should be sorted", res.Reason)

	res, err = ParseEvaluation(`{"approved": true, "reason": ""}`)
	require.NoError(t, err)
	assert.True(t, res.Approved)

	for _, bad := range []string{
		`{"approved": "yes", "reason": "x"}`,
		`{"reason": "missing verdict"}`,
		`{"approved": true, "reason": "x", "score": 3}`,
		`not json`,
	} {
		_, err := ParseEvaluation(bad)
		assert.Error(t, err, bad)
	}
}
