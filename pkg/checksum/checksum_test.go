package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSealOpenProperty(t *testing.T) {
	for _, a := range []Algorithm{CRC32, CRC32C, XXHash} {
		h, err := New(a)
		require.NoError(t, err)

		rapid.Check(t, func(rt *rapid.T) {
			data := rapid.SliceOf(rapid.Byte()).Draw(rt, "data")
			out, err := h.Open(h.Seal(nil, data))
			if err != nil {
				rt.Fatalf("%s: %v", a, err)
			}
			if string(out) != string(data) {
				rt.Fatalf("%s: payload changed", a)
			}
		})
	}
}

func TestOpenDetectsCorruption(t *testing.T) {
	h, err := New(XXHash)
	require.NoError(t, err)

	sealed := h.Seal([]byte{0xAA}, []byte("cached rows"))
	body := sealed[1:]
	body[len(body)-1] ^= 0x01

	_, err = h.Open(body)
	assert.ErrorIs(t, err, ErrMismatch)

	_, err = h.Open([]byte{1, 2})
	assert.ErrorIs(t, err, ErrShort)
}

func TestKnownValues(t *testing.T) {
	data := []byte("123456789")
	cases := map[Algorithm]uint32{
		CRC32:  0xCBF43926,
		CRC32C: 0xE3069283,
	}
	for a, want := range cases {
		h, err := New(a)
		require.NoError(t, err)
		assert.Equal(t, want, h.Sum(data), string(a))
	}
}

func TestLookup(t *testing.T) {
	h, err := New("")
	require.NoError(t, err)
	assert.Equal(t, CRC32C, h.Algorithm())

	back, err := ByID(h.ID())
	require.NoError(t, err)
	assert.Same(t, h, back)

	_, err = New("md5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
	_, err = ByID(0)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}
