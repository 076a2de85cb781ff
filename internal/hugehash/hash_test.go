package hugehash_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugehash"
)

func TestSumIsDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	h1, err := hugehash.Sum(bytes.NewReader(data))
	require.NoError(t, err)

	h2 := hugehash.SumBytes(data)

	require.Equal(t, h1, h2)
}

func TestSumDistinguishesContent(t *testing.T) {
	a := hugehash.SumBytes([]byte("a"))
	b := hugehash.SumBytes([]byte("b"))
	require.NotEqual(t, a, b)
}

func TestHexRoundTrip(t *testing.T) {
	h := hugehash.SumBytes([]byte("round trip me"))

	parsed, err := hugehash.FromHex(h.Hex())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestTextRoundTrip(t *testing.T) {
	h := hugehash.SumBytes([]byte("base64 me"))

	text, err := h.MarshalText()
	require.NoError(t, err)

	var parsed hugehash.Hash
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, h, parsed)
}

func TestUnmarshalTextRejectsBadLength(t *testing.T) {
	var h hugehash.Hash
	require.Error(t, h.UnmarshalText([]byte("dG9vc2hvcnQ=")))
}
