package serde

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	s := String()

	data, err := s.Serialise("t", "hello")
	require.NoError(t, err)

	out, err := s.Deserialise("t", data)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestBytesPassthrough(t *testing.T) {
	s := Bytes()

	in := []byte{0x00, 0x01, 0xff}
	data, err := s.Serialise("t", in)
	require.NoError(t, err)
	assert.Equal(t, in, data)

	out, err := s.Deserialise("t", data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSONRoundTrip(t *testing.T) {
	type event struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	s := JSON[event]()

	data, err := s.Serialise("t", event{ID: 7, Name: "seven"})
	require.NoError(t, err)

	out, err := s.Deserialise("t", data)
	require.NoError(t, err)
	assert.Equal(t, event{ID: 7, Name: "seven"}, out)
}

func TestJSONDeserialiseInvalid(t *testing.T) {
	s := JSON[map[string]int]()

	_, err := s.Deserialise("t", []byte("{not json"))
	assert.Error(t, err)
}
