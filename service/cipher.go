// Licensed under the Apache-2.0 license

package service

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/subtle"

	"golang.org/x/crypto/chacha20"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// operation is a multipart cipher operation. Block modes hold back the
// trailing partial block until finish; a PKCS7 decryption also holds back
// the last full block because it carries the padding.
type operation struct {
	keyType client.KeyType
	alg     client.Algorithm
	encrypt bool
	active  bool
	ivSet   bool

	key     []byte
	block   cipher.Block
	mode    cipher.BlockMode
	stream  cipher.Stream
	pending []byte
}

func newBlockCipher(kt client.KeyType, data []byte) (cipher.Block, error) {
	switch kt {
	case client.KeyTypeAES:
		return aes.NewCipher(data)
	case client.KeyTypeDES:
		switch len(data) {
		case client.DESKeySize:
			return des.NewCipher(data)
		case client.DES3TwoKeySize:
			// Two-key 3DES is K1 K2 K1.
			k := make([]byte, 0, client.DES3KeySize)
			k = append(k, data...)
			k = append(k, data[:client.DESKeySize]...)
			return des.NewTripleDESCipher(k)
		case client.DES3KeySize:
			return des.NewTripleDESCipher(data)
		}
	}
	return nil, client.StatusInvalidArgument
}

// compatible reports whether alg can be used with key type kt
func compatible(kt client.KeyType, alg client.Algorithm) (bool, error) {
	switch alg {
	case client.AlgStreamCipher:
		return kt == client.KeyTypeChaCha20, nil
	case client.AlgCTR, client.AlgCBCNoPadding, client.AlgCBCPKCS7:
		return kt == client.KeyTypeAES || kt == client.KeyTypeDES, nil
	}
	return false, client.StatusNotSupported
}

func newOperation(k *key, alg client.Algorithm, encrypt bool) (*operation, error) {
	if !alg.IsCipher() {
		return nil, client.StatusInvalidArgument
	}
	usage := client.KeyUsageDecrypt
	if encrypt {
		usage = client.KeyUsageEncrypt
	}
	if k.attrs.Usage&usage == 0 || k.attrs.Alg != alg {
		return nil, client.StatusNotPermitted
	}
	ok, err := compatible(k.attrs.Type, alg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, client.StatusInvalidArgument
	}

	op := &operation{
		keyType: k.attrs.Type,
		alg:     alg,
		encrypt: encrypt,
		active:  true,
		key:     append([]byte(nil), k.data...),
	}
	if alg != client.AlgStreamCipher {
		op.block, err = newBlockCipher(k.attrs.Type, k.data)
		if err != nil {
			return nil, client.StatusInvalidArgument
		}
	}
	return op, nil
}

func (op *operation) terminate() {
	op.active = false
	clear(op.key)
	clear(op.pending)
	op.pending = nil
	op.mode = nil
	op.stream = nil
}

func (op *operation) setIV(iv []byte) error {
	if !op.active || op.ivSet {
		op.terminate()
		return client.StatusBadState
	}
	if len(iv) != op.keyType.IVSize() {
		op.terminate()
		return client.StatusInvalidArgument
	}

	switch op.alg {
	case client.AlgCBCNoPadding, client.AlgCBCPKCS7:
		if op.encrypt {
			op.mode = cipher.NewCBCEncrypter(op.block, iv)
		} else {
			op.mode = cipher.NewCBCDecrypter(op.block, iv)
		}
	case client.AlgCTR:
		op.stream = cipher.NewCTR(op.block, iv)
	case client.AlgStreamCipher:
		c, err := chacha20.NewUnauthenticatedCipher(op.key, iv)
		if err != nil {
			op.terminate()
			return client.StatusInvalidArgument
		}
		op.stream = c
	}
	op.ivSet = true
	return nil
}

// update processes input into a buffer of outputSize bytes. Any error
// terminates the operation.
func (op *operation) update(input []byte, outputSize int) ([]byte, error) {
	if !op.active || !op.ivSet {
		op.terminate()
		return nil, client.StatusBadState
	}

	if op.stream != nil {
		if outputSize < len(input) {
			op.terminate()
			return nil, client.StatusBufferTooSmall
		}
		out := make([]byte, len(input))
		op.stream.XORKeyStream(out, input)
		return out, nil
	}

	bs := op.block.BlockSize()
	data := make([]byte, 0, len(op.pending)+len(input))
	data = append(data, op.pending...)
	data = append(data, input...)

	n := len(data) / bs * bs
	if !op.encrypt && op.alg.HasPadding() && n == len(data) && n > 0 {
		n -= bs
	}
	if outputSize < n {
		op.terminate()
		return nil, client.StatusBufferTooSmall
	}

	out := make([]byte, n)
	op.mode.CryptBlocks(out, data[:n])
	op.pending = append(op.pending[:0], data[n:]...)
	return out, nil
}

// finish flushes the held-back bytes into a buffer of outputSize bytes. The
// operation is terminated whatever the outcome.
func (op *operation) finish(outputSize int) ([]byte, error) {
	defer op.terminate()

	if !op.active || !op.ivSet {
		return nil, client.StatusBadState
	}
	if op.stream != nil {
		return []byte{}, nil
	}

	bs := op.block.BlockSize()
	switch {
	case !op.alg.HasPadding():
		if len(op.pending) != 0 {
			return nil, client.StatusInvalidArgument
		}
		return []byte{}, nil

	case op.encrypt:
		if outputSize < bs {
			return nil, client.StatusBufferTooSmall
		}
		padLen := bs - len(op.pending)
		last := append(append([]byte(nil), op.pending...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
		out := make([]byte, bs)
		op.mode.CryptBlocks(out, last)
		return out, nil

	default:
		if len(op.pending) != bs {
			return nil, client.StatusInvalidArgument
		}
		plain := make([]byte, bs)
		op.mode.CryptBlocks(plain, op.pending)
		n, ok := unpad(plain)
		if !ok {
			return nil, client.StatusInvalidPadding
		}
		if outputSize < n {
			return nil, client.StatusBufferTooSmall
		}
		return plain[:n], nil
	}
}

// unpad returns the length of a PKCS7 padded block without its padding
func unpad(block []byte) (int, bool) {
	padLen := int(block[len(block)-1])
	if padLen == 0 || padLen > len(block) {
		return 0, false
	}
	want := bytes.Repeat([]byte{byte(padLen)}, padLen)
	if subtle.ConstantTimeCompare(block[len(block)-padLen:], want) != 1 {
		return 0, false
	}
	return len(block) - padLen, true
}

type operationTable struct {
	max  int
	next client.OperationHandle
	ops  map[client.OperationHandle]*operation
}

func newOperationTable(slots int) *operationTable {
	return &operationTable{max: slots, next: 1, ops: map[client.OperationHandle]*operation{}}
}

func (t *operationTable) get(h client.OperationHandle) (*operation, error) {
	op, ok := t.ops[h]
	if !ok {
		return nil, client.StatusInvalidHandle
	}
	return op, nil
}

// abort releases an operation. Aborting an unknown or finished operation
// succeeds.
func (t *operationTable) abort(h client.OperationHandle) {
	if op, ok := t.ops[h]; ok {
		op.terminate()
		delete(t.ops, h)
	}
}

func (s *Service) cipherSetup(req *client.CipherSetupReq, encrypt bool) (*client.CipherSetupResp, error) {
	if !s.initialized {
		return nil, client.StatusBadState
	}
	k, err := s.keys.get(req.Handle)
	if err != nil {
		return nil, err
	}
	if len(s.ops.ops) >= s.ops.max {
		return nil, client.StatusInsufficientMemory
	}
	op, err := newOperation(k, req.Alg, encrypt)
	if err != nil {
		return nil, err
	}

	h := s.ops.next
	s.ops.next++
	s.ops.ops[h] = op
	return &client.CipherSetupResp{Operation: h}, nil
}

func (s *Service) cipherSetIV(req *client.CipherSetIVReq) error {
	op, err := s.ops.get(req.Operation)
	if err != nil {
		return err
	}
	if req.IVSize > client.MaxIVSize {
		op.terminate()
		return client.StatusInvalidArgument
	}
	return op.setIV(req.IV[:req.IVSize])
}

func (s *Service) cipherUpdate(req *client.CipherUpdateReq) (*client.CipherOutputResp, error) {
	op, err := s.ops.get(req.Operation)
	if err != nil {
		return nil, err
	}
	if req.InputSize > client.MaxChunkSize {
		op.terminate()
		return nil, client.StatusInvalidArgument
	}
	out, err := op.update(req.Input[:req.InputSize], clampOutputSize(req.OutputSize))
	if err != nil {
		return nil, err
	}
	return outputResp(out), nil
}

// cipherFinish ends the operation and frees its slot, whatever the outcome
func (s *Service) cipherFinish(req *client.CipherFinishReq) (*client.CipherOutputResp, error) {
	op, err := s.ops.get(req.Operation)
	if err != nil {
		return nil, err
	}
	defer s.ops.abort(req.Operation)

	out, err := op.finish(clampOutputSize(req.OutputSize))
	if err != nil {
		return nil, err
	}
	return outputResp(out), nil
}

// clampOutputSize limits a caller buffer to what one response can carry
func clampOutputSize(n uint32) int {
	if n > client.MaxOutputSize {
		return client.MaxOutputSize
	}
	return int(n)
}

func outputResp(out []byte) *client.CipherOutputResp {
	resp := &client.CipherOutputResp{OutputLength: uint32(len(out))}
	copy(resp.Output[:], out)
	return resp
}
