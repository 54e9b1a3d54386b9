// Licensed under the Apache-2.0 license

package service

import (
	"bytes"
	"testing"

	fuzz "github.com/trailofbits/go-fuzz-utils"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// FuzzChunkedUpdate splits a random input into random chunks and checks that
// the multipart engine produces the same output as a single update.
func FuzzChunkedUpdate(f *testing.F) {
	f.Add([]byte("\x00\x10\x20seed input for the cipher engine \x03\x07\x01"))
	f.Add(bytes.Repeat([]byte{0xa5}, 300))

	algs := []struct {
		keyType client.KeyType
		keyLen  int
		alg     client.Algorithm
	}{
		{client.KeyTypeAES, 16, client.AlgCBCNoPadding},
		{client.KeyTypeAES, 32, client.AlgCBCPKCS7},
		{client.KeyTypeAES, 24, client.AlgCTR},
		{client.KeyTypeDES, 24, client.AlgCBCPKCS7},
		{client.KeyTypeChaCha20, 32, client.AlgStreamCipher},
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		tp, err := fuzz.NewTypeProvider(data)
		if err != nil {
			t.Skip(err)
		}

		algIndex, err := tp.GetByte()
		if err != nil {
			t.Skip(err)
		}
		a := algs[int(algIndex)%len(algs)]

		direction, err := tp.GetByte()
		if err != nil {
			t.Skip(err)
		}
		encrypt := direction&1 == 1

		keyData, err := tp.GetBytes()
		if err != nil {
			t.Skip(err)
		}
		iv, err := tp.GetBytes()
		if err != nil {
			t.Skip(err)
		}
		keyData = resize(keyData, a.keyLen)
		iv = resize(iv, a.keyType.IVSize())
		input, err := tp.GetBytes()
		if err != nil {
			t.Skip(err)
		}
		if len(input) > client.MaxChunkSize {
			input = input[:client.MaxChunkSize]
		}

		var chunks []int
		for rest := len(input); rest > 0; {
			n, err := tp.GetByte()
			if err != nil {
				chunks = append(chunks, rest)
				break
			}
			size := min(int(n)%32+1, rest)
			chunks = append(chunks, size)
			rest -= size
		}

		k := &key{
			attrs: client.KeyAttributes{Type: a.keyType, Usage: client.KeyUsageEncrypt | client.KeyUsageDecrypt, Alg: a.alg},
			data:  keyData,
		}

		single, singleErr := runOperation(t, k, encrypt, iv, input, []int{len(input)})
		chunked, chunkedErr := runOperation(t, k, encrypt, iv, input, chunks)

		if singleErr != chunkedErr {
			t.Fatalf("Divergent status: %v != %v", singleErr, chunkedErr)
		}
		if !bytes.Equal(single, chunked) {
			t.Fatalf("Divergent output: %x != %x", single, chunked)
		}
	})
}

// resize truncates or zero-extends b to n bytes
func resize(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func runOperation(t *testing.T, k *key, encrypt bool, iv, input []byte, chunks []int) ([]byte, error) {
	op, err := newOperation(k, k.attrs.Alg, encrypt)
	if err != nil {
		t.Fatalf("Could not set up operation: %v", err)
	}
	if err := op.setIV(iv); err != nil {
		t.Fatalf("Could not set IV: %v", err)
	}

	var out []byte
	for _, n := range chunks {
		chunk, err := op.update(input[:n], client.MaxOutputSize)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		input = input[n:]
	}
	final, err := op.finish(client.MaxOutputSize)
	if err != nil {
		return nil, err
	}
	return append(out, final...), nil
}
