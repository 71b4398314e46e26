package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "foo.txt"))
	got, err := ReadString(&buf)
	require.NoError(t, err)
	require.Equal(t, "foo.txt", got)
}

func TestI32RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteI32(&buf, -42))
	got, err := ReadI32(&buf)
	require.NoError(t, err)
	require.Equal(t, int32(-42), got)
}

func TestCustomParamsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	params := []string{"regex", "foo"}
	require.NoError(t, WriteCustomParams(&buf, params))
	got, err := ReadCustomParams(&buf)
	require.NoError(t, err)
	require.Equal(t, params, got)
}

func TestKeyFilesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	kf := []KeyFile{{Key: "word", Filename: "wc_2_word"}, {Key: "bird", Filename: "wc_2_bird"}}
	require.NoError(t, WriteKeyFiles(&buf, kf))
	got, err := ReadKeyFiles(&buf)
	require.NoError(t, err)
	require.Equal(t, kf, got)
}

func TestFramedRoundTrip(t *testing.T) {
	var wireBuf bytes.Buffer
	payload := bytes.Repeat([]byte("hello world "), 1000)
	require.NoError(t, WriteFramed(&wireBuf, bytes.NewReader(payload)))

	var out bytes.Buffer
	require.NoError(t, ReadFramed(&wireBuf, &out))
	require.Equal(t, payload, out.Bytes())
}

func TestConfirmation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteConfirmation(&buf))
	ok, err := ReadConfirmation(&buf)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestU8SliceRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	vals := []byte{1, 3, 5, 7}
	require.NoError(t, WriteU8Slice(&buf, vals))
	got, err := ReadU8Slice(&buf)
	require.NoError(t, err)
	require.Equal(t, vals, got)
}
