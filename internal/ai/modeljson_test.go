package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelJSONObject(t *testing.T) {
	raw, err := ParseModelJSON("Here is the result:\n```json\n{\"fields\": [{\"label\": \"Revenue\", \"value\": 1000}]}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"fields": [{"label": "Revenue", "value": 1000}]}`, string(raw))
}

func TestParseModelJSONArray(t *testing.T) {
	raw, err := ParseModelJSON("Sure! [{\"page\": 0}, {\"page\": 1}] hope that helps")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"page": 0}, {"page": 1}]`, string(raw))
}

func TestParseModelJSONMissing(t *testing.T) {
	_, err := ParseModelJSON("I could not read the page, sorry.")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseModelJSONUnbalanced(t *testing.T) {
	_, err := ParseModelJSON("{\"fields\": [")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseModelJSONTrailingGarbage(t *testing.T) {
	raw, err := ParseModelJSON("{\"a\": 1} and also {\"b\": broken")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(raw))
}

func TestDecodeObjectRejectsArray(t *testing.T) {
	var v map[string]any
	err := DecodeObject("[1, 2, 3]", &v)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeArray(t *testing.T) {
	var v []struct {
		Page int `json:"page"`
	}
	err := DecodeArray("prefix [{\"page\": 3}] suffix", &v)
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, 3, v[0].Page)
}
