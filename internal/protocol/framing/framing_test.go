package framing_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/protocol/framing"
)

func testKey() []byte { return bytes.Repeat([]byte{7}, 32) }

func TestSealOpen_RoundTrip(t *testing.T) {
	ad := framing.AssociatedData([]byte("session"), "alice", "bob", domain.X25519Public{1}, 0, 3)
	ct, err := framing.Seal(testKey(), ad, []byte("hello"))
	require.NoError(t, err)

	pt, err := framing.Open(testKey(), ad, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)
}

func TestOpen_TamperedCiphertext(t *testing.T) {
	ad := framing.AssociatedData(nil, "alice", "bob", domain.X25519Public{1}, 0, 0)
	ct, err := framing.Seal(testKey(), ad, []byte("hello"))
	require.NoError(t, err)

	for i := range ct {
		mut := append([]byte(nil), ct...)
		mut[i] ^= 0x01
		_, err := framing.Open(testKey(), ad, mut)
		assert.ErrorIs(t, err, domain.ErrDecryptionFailed, "byte %d", i)
	}
	_, err = framing.Open(testKey(), ad, ct[:10])
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestOpen_BoundFieldsChangeAD(t *testing.T) {
	base := framing.AssociatedData([]byte("s"), "alice", "bob", domain.X25519Public{1}, 2, 3)
	ct, err := framing.Seal(testKey(), base, []byte("hello"))
	require.NoError(t, err)

	variants := map[string][]byte{
		"session":   framing.AssociatedData([]byte("t"), "alice", "bob", domain.X25519Public{1}, 2, 3),
		"sender":    framing.AssociatedData([]byte("s"), "mallory", "bob", domain.X25519Public{1}, 2, 3),
		"recipient": framing.AssociatedData([]byte("s"), "alice", "carol", domain.X25519Public{1}, 2, 3),
		"ratchet":   framing.AssociatedData([]byte("s"), "alice", "bob", domain.X25519Public{2}, 2, 3),
		"pn":        framing.AssociatedData([]byte("s"), "alice", "bob", domain.X25519Public{1}, 1, 3),
		"n":         framing.AssociatedData([]byte("s"), "alice", "bob", domain.X25519Public{1}, 2, 4),
		// Length prefixes keep field boundaries unambiguous.
		"shifted": framing.AssociatedData([]byte("s"), "alic", "ebob", domain.X25519Public{1}, 2, 3),
	}
	for name, ad := range variants {
		_, err := framing.Open(testKey(), ad, ct)
		assert.ErrorIs(t, err, domain.ErrDecryptionFailed, name)
	}
}

func TestOpen_WrongKey(t *testing.T) {
	ct, err := framing.Seal(testKey(), nil, []byte("hello"))
	require.NoError(t, err)

	_, err = framing.Open(bytes.Repeat([]byte{8}, 32), nil, ct)
	assert.ErrorIs(t, err, domain.ErrDecryptionFailed)
}
