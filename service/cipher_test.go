// Licensed under the Apache-2.0 license

package service

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

type cipherRun struct {
	keyType    client.KeyType
	key        string
	alg        client.Algorithm
	encrypt    bool
	iv         string
	input      string
	outputSize [2]int
}

// run drives one single-chunk cipher operation and always aborts it
func (r cipherRun) run(t *testing.T, c client.PSAClient) (update, final []byte, err error) {
	t.Helper()
	usage := client.KeyUsageDecrypt
	if r.encrypt {
		usage = client.KeyUsageEncrypt
	}
	h, err := c.ImportKey(client.KeyAttributes{Type: r.keyType, Usage: usage, Alg: r.alg}, unhex(t, r.key))
	require.NoError(t, err)
	defer c.DestroyKey(h)

	var op client.OperationHandle
	if r.encrypt {
		op, err = c.CipherEncryptSetup(h, r.alg)
	} else {
		op, err = c.CipherDecryptSetup(h, r.alg)
	}
	require.NoError(t, err)
	defer c.CipherAbort(op)

	require.NoError(t, c.CipherSetIV(op, unhex(t, r.iv)))
	update, err = c.CipherUpdate(op, unhex(t, r.input), r.outputSize[0])
	if err != nil {
		return nil, nil, err
	}
	final, err = c.CipherFinish(op, r.outputSize[1])
	return update, final, err
}

const (
	aesKey = "2b7e151628aed2a6abf7158809cf4f3c"
	aesIV  = "2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a2a"
	aesPT  = "6bc1bee22e409f96e93d7e117393172a"
	desKey = "01020407080b0d0e"
	desIV  = "2a2a2a2a2a2a2a2a"
	desPT  = "eda4011239bc3ac9"
)

func TestCipherBuffering(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	tests := []struct {
		name   string
		run    cipherRun
		update string
		final  string
	}{
		{
			"AES CBC no padding",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCNoPadding, true, aesIV, aesPT, [2]int{32, 32}},
			"a076ec9dfbe47d52afc357336f20743b", "",
		},
		{
			"AES CBC PKCS7 full block",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, true, aesIV, aesPT, [2]int{32, 32}},
			"a076ec9dfbe47d52afc357336f20743b", "ca7e8a15dc3c776436314293031cd4f3",
		},
		{
			"AES CBC PKCS7 partial block",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, true, aesIV, aesPT[:30], [2]int{32, 32}},
			"", "6279b49d7f7a8dd87b685175d4276e24",
		},
		{
			"AES CTR short",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCTR, true, aesIV, aesPT[:30], [2]int{32, 32}},
			"8f9408fe80a81d3e813da3c7b0b2bd", "",
		},
		{
			"AES CBC PKCS7 decrypt holds back the last block",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, false, aesIV, "a076ec9dfbe47d52afc357336f20743bca7e8a15dc3c776436314293031cd4f3", [2]int{32, 32}},
			aesPT, "",
		},
		{
			"AES CBC PKCS7 decrypt partial block",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, false, aesIV, "6279b49d7f7a8dd87b685175d4276e24", [2]int{32, 32}},
			"", aesPT[:30],
		},
		{
			"DES CBC",
			cipherRun{client.KeyTypeDES, desKey, client.AlgCBCNoPadding, true, desIV, desPT, [2]int{32, 32}},
			"64f917b0152f8f05", "",
		},
		{
			"2-key 3DES CBC",
			cipherRun{client.KeyTypeDES, desKey + "c1c2c4c7c8cbcdce", client.AlgCBCNoPadding, true, desIV, desPT, [2]int{32, 32}},
			"5d0652429c5b0ac7", "",
		},
		{
			"3-key 3DES CBC decrypt",
			cipherRun{client.KeyTypeDES, desKey + "c1c2c4c7c8cbcdce31323437383b3d3e", client.AlgCBCNoPadding, false, desIV, "817ca7d69b80d86a", [2]int{32, 32}},
			desPT, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, final, err := tt.run.run(t, c)
			require.NoError(t, err)
			assert.Equal(t, tt.update, hex.EncodeToString(update))
			assert.Equal(t, tt.final, hex.EncodeToString(final))
		})
	}
}

func TestCipherFinishErrors(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	tests := []struct {
		name string
		run  cipherRun
		want client.Status
	}{
		{
			"unaligned input without padding",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCNoPadding, true, aesIV, aesPT[:10], [2]int{16, 16}},
			client.StatusInvalidArgument,
		},
		{
			"finish buffer one byte short",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, true, aesIV, aesPT, [2]int{32, 15}},
			client.StatusBufferTooSmall,
		},
		{
			"decrypt of a partial block",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, false, aesIV, aesPT[:30], [2]int{32, 32}},
			client.StatusInvalidArgument,
		},
		{
			"bad padding",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, false, aesIV, "a076ec9dfbe47d52afc357336f20743b", [2]int{32, 32}},
			client.StatusInvalidPadding,
		},
		{
			"decrypted text larger than the finish buffer",
			cipherRun{client.KeyTypeAES, aesKey, client.AlgCBCPKCS7, false, aesIV, "6279b49d7f7a8dd87b685175d4276e24", [2]int{32, 14}},
			client.StatusBufferTooSmall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.run.run(t, c)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCipherUpdateBufferTooSmall(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	r := cipherRun{client.KeyTypeAES, aesKey, client.AlgCTR, true, aesIV, aesPT, [2]int{15, 32}}
	_, _, err := r.run(t, c)
	assert.ErrorIs(t, err, client.StatusBufferTooSmall)
}

func TestCipherOperationState(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	h, err := c.ImportKey(client.KeyAttributes{Type: client.KeyTypeAES, Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding}, unhex(t, aesKey))
	require.NoError(t, err)
	defer c.DestroyKey(h)

	// Usage and algorithm policy
	_, err = c.CipherDecryptSetup(h, client.AlgCBCNoPadding)
	assert.ErrorIs(t, err, client.StatusNotPermitted)
	_, err = c.CipherEncryptSetup(h, client.AlgCTR)
	assert.ErrorIs(t, err, client.StatusNotPermitted)

	op, err := c.CipherEncryptSetup(h, client.AlgCBCNoPadding)
	require.NoError(t, err)

	// No IV yet
	_, err = c.CipherUpdate(op, unhex(t, aesPT), 32)
	assert.ErrorIs(t, err, client.StatusBadState)
	require.NoError(t, c.CipherAbort(op))

	op, err = c.CipherEncryptSetup(h, client.AlgCBCNoPadding)
	require.NoError(t, err)
	assert.ErrorIs(t, c.CipherSetIV(op, make([]byte, 8)), client.StatusInvalidArgument)
	require.NoError(t, c.CipherAbort(op))

	op, err = c.CipherEncryptSetup(h, client.AlgCBCNoPadding)
	require.NoError(t, err)
	require.NoError(t, c.CipherSetIV(op, unhex(t, aesIV)))
	assert.ErrorIs(t, c.CipherSetIV(op, unhex(t, aesIV)), client.StatusBadState)
	require.NoError(t, c.CipherAbort(op))

	// Finish terminates the operation
	op, err = c.CipherEncryptSetup(h, client.AlgCBCNoPadding)
	require.NoError(t, err)
	require.NoError(t, c.CipherSetIV(op, unhex(t, aesIV)))
	_, err = c.CipherFinish(op, 16)
	require.NoError(t, err)
	_, err = c.CipherFinish(op, 16)
	assert.ErrorIs(t, err, client.StatusInvalidHandle)

	// Abort is idempotent
	require.NoError(t, c.CipherAbort(op))
	require.NoError(t, c.CipherAbort(op))

	_, err = c.CipherUpdate(op, unhex(t, aesPT), 32)
	assert.ErrorIs(t, err, client.StatusInvalidHandle)
}

func TestCipherIncompatibleKey(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	h, err := c.ImportKey(client.KeyAttributes{Type: client.KeyTypeAES, Usage: client.KeyUsageEncrypt, Alg: client.AlgStreamCipher}, unhex(t, aesKey))
	require.NoError(t, err)
	defer c.DestroyKey(h)

	_, err = c.CipherEncryptSetup(h, client.AlgStreamCipher)
	assert.ErrorIs(t, err, client.StatusInvalidArgument)
}

func TestChaCha20RoundTrip(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	key := hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	nonce := "000000000000004a00000000"
	plaintext := hex.EncodeToString([]byte("Ladies and Gentlemen of the class of '99"))

	enc := cipherRun{client.KeyTypeChaCha20, key, client.AlgStreamCipher, true, nonce, plaintext, [2]int{64, 0}}
	ct, final, err := enc.run(t, c)
	require.NoError(t, err)
	assert.Empty(t, final)
	assert.Len(t, ct, len(plaintext)/2)
	assert.NotEqual(t, plaintext, hex.EncodeToString(ct))

	dec := cipherRun{client.KeyTypeChaCha20, key, client.AlgStreamCipher, false, nonce, hex.EncodeToString(ct), [2]int{64, 0}}
	pt, _, err := dec.run(t, c)
	require.NoError(t, err)
	assert.Equal(t, plaintext, hex.EncodeToString(pt))
}

func TestChunkedUpdateMatchesSingleUpdate(t *testing.T) {
	_, c := newTestClient(t, DefaultConfig(), 1)

	input := bytes.Repeat(unhex(t, aesPT), 4)
	single, err := encryptChunks(c, client.AlgCBCPKCS7, unhex(t, aesKey), unhex(t, aesIV), input, []int{len(input)})
	require.NoError(t, err)
	chunked, err := encryptChunks(c, client.AlgCBCPKCS7, unhex(t, aesKey), unhex(t, aesIV), input, []int{1, 15, 17, 3, 28})
	require.NoError(t, err)
	assert.Equal(t, single, chunked)
	assert.Len(t, single, len(input)+16)
}

// encryptChunks encrypts input, split at the given chunk lengths, and
// returns everything the operation produced
func encryptChunks(c client.PSAClient, alg client.Algorithm, key, iv, input []byte, chunks []int) ([]byte, error) {
	attrs := client.KeyAttributes{Type: client.KeyTypeAES, Usage: client.KeyUsageEncrypt, Alg: alg}
	h, err := c.ImportKey(attrs, key)
	if err != nil {
		return nil, err
	}
	defer c.DestroyKey(h)

	op, err := c.CipherEncryptSetup(h, alg)
	if err != nil {
		return nil, err
	}
	defer c.CipherAbort(op)

	if err := c.CipherSetIV(op, iv); err != nil {
		return nil, err
	}

	var out []byte
	for _, n := range chunks {
		if n > len(input) {
			n = len(input)
		}
		chunk, err := c.CipherUpdate(op, input[:n], client.CipherUpdateOutputSize(attrs.Type, alg, n))
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		input = input[n:]
	}
	if len(input) > 0 {
		chunk, err := c.CipherUpdate(op, input, client.CipherUpdateOutputSize(attrs.Type, alg, len(input)))
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}

	final, err := c.CipherFinish(op, client.CipherFinishOutputSize(attrs.Type, alg))
	if err != nil {
		return nil, err
	}
	return append(out, final...), nil
}

func TestCipherFinishFreesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOperations = 1
	_, c := newTestClient(t, cfg, 1)

	h, err := c.ImportKey(client.KeyAttributes{Type: client.KeyTypeAES, Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCPKCS7}, unhex(t, aesKey))
	require.NoError(t, err)
	defer c.DestroyKey(h)

	// Neither a successful nor a failed finish is followed by an abort here
	for _, outputSize := range []int{16, 15, 16} {
		op, err := c.CipherEncryptSetup(h, client.AlgCBCPKCS7)
		require.NoError(t, err, "output size %d", outputSize)
		require.NoError(t, c.CipherSetIV(op, unhex(t, aesIV)))
		_, err = c.CipherFinish(op, outputSize)
		if outputSize < 16 {
			assert.ErrorIs(t, err, client.StatusBufferTooSmall)
		} else {
			assert.NoError(t, err)
		}
	}
}
