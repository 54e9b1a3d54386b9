// Licensed under the Apache-2.0 license

package verification

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// cipherOp describes a complete multipart cipher operation
type cipherOp struct {
	keyType client.KeyType
	key     []byte
	alg     client.Algorithm
	encrypt bool
	iv      []byte
	// chunk splits the input into updates of at most chunk bytes
	chunk int
}

// run imports the key, processes input and releases every handle. Output
// buffers are sized to always be large enough. Handles the target fails to
// release are logged to t.
func (o cipherOp) run(c client.PSAClient, t TB, input []byte) ([]byte, error) {
	usage := client.KeyUsageDecrypt
	if o.encrypt {
		usage = client.KeyUsageEncrypt
	}
	key, err := c.ImportKey(client.KeyAttributes{Type: o.keyType, Usage: usage, Alg: o.alg}, o.key)
	if err != nil {
		return nil, fmt.Errorf("import key: %w", err)
	}
	defer func() {
		if err := c.DestroyKey(key); err != nil {
			t.Logf("Could not destroy key %d: %v", key, err)
		}
	}()

	var op client.OperationHandle
	if o.encrypt {
		op, err = c.CipherEncryptSetup(key, o.alg)
	} else {
		op, err = c.CipherDecryptSetup(key, o.alg)
	}
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	defer func() {
		if err := c.CipherAbort(op); err != nil {
			t.Logf("Could not abort operation %d: %v", op, err)
		}
	}()

	if err := c.CipherSetIV(op, o.iv); err != nil {
		return nil, fmt.Errorf("set IV: %w", err)
	}

	chunk := o.chunk
	if chunk <= 0 || chunk > client.MaxChunkSize {
		chunk = client.MaxChunkSize
	}
	var output []byte
	for len(input) > 0 {
		n := min(chunk, len(input))
		out, err := c.CipherUpdate(op, input[:n], client.CipherUpdateOutputSize(o.keyType, o.alg, n))
		if err != nil {
			return nil, fmt.Errorf("update: %w", err)
		}
		output = append(output, out...)
		input = input[n:]
	}

	out, err := c.CipherFinish(op, client.CipherFinishOutputSize(o.keyType, o.alg))
	if err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	return append(output, out...), nil
}

// TestCipherRoundTrip encrypts the input of every paired encrypt vector and
// decrypts the result with the paired decrypt vector. The plaintext must come
// back unchanged.
func TestCipherRoundTrip(d client.TestPSAInstance, c client.PSAClient, t TB) {
	if err := c.CryptoInit(); err != nil {
		t.Abortf("Could not initialize the crypto service: %v", err)
	}

	for _, pair := range CipherVectorPairs {
		enc := &CipherFinishVectors[pair.Encrypt-1]
		dec := &CipherFinishVectors[pair.Decrypt-1]
		if !supportsKeyType(d.GetSupport(), enc.KeyType) {
			t.Logf("Skipping pair %d/%d: target does not support %v", pair.Encrypt, pair.Decrypt, enc.KeyType)
			continue
		}

		ciphertext, err := cipherOp{keyType: enc.KeyType, key: enc.KeyData, alg: enc.Alg, encrypt: true, iv: enc.IV}.run(c, t, enc.Input)
		if err != nil {
			t.Errorf("[ERROR]: Could not encrypt %q: %v", enc.Description, err)
			continue
		}
		plaintext, err := cipherOp{keyType: dec.KeyType, key: dec.KeyData, alg: dec.Alg, encrypt: false, iv: dec.IV}.run(c, t, ciphertext)
		if err != nil {
			t.Errorf("[ERROR]: Could not decrypt the output of %q with %q: %v", enc.Description, dec.Description, err)
			continue
		}
		if !bytes.Equal(plaintext, enc.Input) {
			t.Errorf("[ERROR]: Round trip of %q changed the plaintext: %x != %x", enc.Description, plaintext, enc.Input)
		}
	}
}

// TestChaCha20RoundTrip encrypts a random message with the ChaCha20 stream
// cipher in uneven chunks and decrypts it in one update.
func TestChaCha20RoundTrip(d client.TestPSAInstance, c client.PSAClient, t TB) {
	if err := c.CryptoInit(); err != nil {
		t.Abortf("Could not initialize the crypto service: %v", err)
	}

	key := make([]byte, client.ChaCha20KeySize)
	nonce := make([]byte, client.KeyTypeChaCha20.IVSize())
	message := make([]byte, 200)
	for _, b := range [][]byte{key, nonce, message} {
		if _, err := rand.Read(b); err != nil {
			t.Abortf("Could not generate random bytes: %v", err)
		}
	}

	op := cipherOp{keyType: client.KeyTypeChaCha20, key: key, alg: client.AlgStreamCipher, encrypt: true, iv: nonce, chunk: 37}
	ciphertext, err := op.run(c, t, message)
	if err != nil {
		t.Fatalf("[FATAL]: Could not encrypt: %v", err)
	}
	if len(ciphertext) != len(message) {
		t.Fatalf("[FATAL]: Stream cipher output is %d bytes, want %d", len(ciphertext), len(message))
	}
	if bytes.Equal(ciphertext, message) {
		t.Errorf("[ERROR]: Ciphertext is the plaintext")
	}

	op.encrypt = false
	op.chunk = 0
	plaintext, err := op.run(c, t, ciphertext)
	if err != nil {
		t.Fatalf("[FATAL]: Could not decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, message) {
		t.Errorf("[ERROR]: Round trip changed the plaintext: %x != %x", plaintext, message)
	}
}
