package n2he

import (
	"testing"

	"github.com/sfup/sfup/csprng"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) (*Cipher, Params) {
	t.Helper()
	params, err := DefaultParams(Security128)
	require.NoError(t, err)

	seed := make([]byte, csprng.SeedSize)
	for i := range seed {
		seed[i] = byte(i * 7)
	}
	gen, err := csprng.NewGeneratorFromSeed(seed)
	require.NoError(t, err)

	sk, err := GenerateSecretKey(gen, "key-1", params)
	require.NoError(t, err)

	cipher, err := New(params, sk, gen)
	require.NoError(t, err)
	return cipher, params
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cipher, params := newTestCipher(t)

	messages := []uint16{0, 1, 42, uint16(params.T - 1), 1000}
	cts, err := cipher.EncryptVector(7, 0, messages)
	require.NoError(t, err)

	got, err := cipher.DecryptVector(cts)
	require.NoError(t, err)
	require.Equal(t, messages, got)
}

func TestHomomorphicAdditionIsExact(t *testing.T) {
	cipher, params := newTestCipher(t)

	m1 := []uint16{1, 2, 3, 4}
	m2 := []uint16{2, 2, 2, 2}
	m3 := []uint16{3, 0, 3, 0}

	c1, err := cipher.EncryptVector(1, 0, m1)
	require.NoError(t, err)
	c2, err := cipher.EncryptVector(1, 0, m2)
	require.NoError(t, err)
	c3, err := cipher.EncryptVector(1, 0, m3)
	require.NoError(t, err)

	summed := make([]Ciphertext, len(m1))
	for i := range summed {
		summed[i], err = SumSlots(params, []Ciphertext{c1[i], c2[i], c3[i]})
		require.NoError(t, err)
	}

	got, err := cipher.DecryptVector(summed)
	require.NoError(t, err)

	for i := range got {
		want := (uint32(m1[i]) + uint32(m2[i]) + uint32(m3[i])) % params.T
		require.Equal(t, uint16(want), got[i])
	}
}

func TestNoiseBudgetExhaustedIsRefused(t *testing.T) {
	// A deliberately tight budget (t close to q) keeps this test fast;
	// the default 128-bit parameters tolerate tens of millions of
	// additions, which the invariant still holds for but which would
	// be impractical to loop over in a unit test.
	params := Params{NLWE: 64, Q: 1 << 32, T: 1 << 30, Mu: 3.19, SecurityLevel: Security128}
	require.NoError(t, params.Validate())

	seed := make([]byte, csprng.SeedSize)
	gen, err := csprng.NewGeneratorFromSeed(seed)
	require.NoError(t, err)
	sk, err := GenerateSecretKey(gen, "key-tight", params)
	require.NoError(t, err)
	cipher, err := New(params, sk, gen)
	require.NoError(t, err)

	cts, err := cipher.EncryptVector(1, 0, []uint16{5})
	require.NoError(t, err)

	acc := cts[0]
	max := params.MaxAdditions()
	require.Less(t, max, uint64(10000), "test requires a small noise budget to stay fast")

	// Summing up to exactly the budget must still decrypt successfully.
	for acc.NumAdds < max {
		acc, err = Add(params, acc, cts[0])
		require.NoError(t, err)
	}
	_, err = cipher.DecryptVector([]Ciphertext{acc})
	require.NoError(t, err)

	// One more addition pushes it over budget and decryption must refuse.
	over, err := Add(params, acc, cts[0])
	require.NoError(t, err)
	_, err = cipher.DecryptVector([]Ciphertext{over})
	require.Error(t, err)
}

func TestInvalidMuRejected(t *testing.T) {
	params, err := DefaultParams(Security128)
	require.NoError(t, err)
	_, err = params.WithMu(0.1)
	require.Error(t, err)
	_, err = params.WithMu(20)
	require.Error(t, err)
}
