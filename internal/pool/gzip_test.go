package pool

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	body := []byte(strings.Repeat("hello lambda ", 1000))

	z, err := Gzip(body)
	require.NoError(t, err)
	assert.Less(t, len(z), len(body))
	assert.Equal(t, []byte{0x1f, 0x8b}, z[:2])

	out, err := Gunzip(z)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestGzipResultIsCallerOwned(t *testing.T) {
	a, err := Gzip([]byte("first payload"))
	require.NoError(t, err)
	snapshot := bytes.Clone(a)

	// 같은 pool 버퍼를 재사용하는 두 번째 호출이 a 를 덮어쓰면 안 된다.
	_, err = Gzip([]byte("second payload that is a bit longer"))
	require.NoError(t, err)
	assert.Equal(t, snapshot, a)
}

func TestGzipJSON(t *testing.T) {
	z, err := GzipJSON(map[string]any{"type": "EchoProcessor"})
	require.NoError(t, err)

	out, err := Gunzip(z)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"EchoProcessor"}`, string(out))
}

func TestGunzipRejectsPlainBytes(t *testing.T) {
	_, err := Gunzip([]byte("not gzip"))
	assert.Error(t, err)
}
