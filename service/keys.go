// Licensed under the Apache-2.0 license

package service

import (
	"github.com/ARM-software/psa-arch-tests/verification/client"
)

const allUsage = client.KeyUsageExport | client.KeyUsageEncrypt | client.KeyUsageDecrypt

type key struct {
	attrs client.KeyAttributes
	data  []byte
}

type keyStore struct {
	max  int
	next client.KeyHandle
	keys map[client.KeyHandle]*key
}

func newKeyStore(slots int) *keyStore {
	return &keyStore{max: slots, next: 1, keys: map[client.KeyHandle]*key{}}
}

func (ks *keyStore) get(h client.KeyHandle) (*key, error) {
	k, ok := ks.keys[h]
	if !ok {
		return nil, client.StatusInvalidHandle
	}
	return k, nil
}

func keyTypeSupported(support client.Support, kt client.KeyType) bool {
	switch kt {
	case client.KeyTypeAES:
		return support.AES
	case client.KeyTypeDES:
		return support.DES
	case client.KeyTypeChaCha20:
		return support.ChaCha20
	}
	return false
}

func (s *Service) importKey(req *client.ImportKeyReq) (*client.ImportKeyResp, error) {
	if !s.initialized {
		return nil, client.StatusBadState
	}
	if !keyTypeSupported(s.cfg.Support, req.Type) {
		return nil, client.StatusNotSupported
	}
	if req.KeySize > client.MaxKeySize || !req.Type.ValidKeySize(int(req.KeySize)) {
		return nil, client.StatusInvalidArgument
	}
	if req.Usage&^allUsage != 0 {
		return nil, client.StatusInvalidArgument
	}
	if req.Alg != client.AlgNone && !req.Alg.IsCipher() {
		return nil, client.StatusNotSupported
	}

	ks := s.keys
	if len(ks.keys) >= ks.max {
		return nil, client.StatusInsufficientMemory
	}

	h := ks.next
	ks.next++
	ks.keys[h] = &key{
		attrs: client.KeyAttributes{Type: req.Type, Usage: req.Usage, Alg: req.Alg},
		data:  append([]byte(nil), req.KeyData[:req.KeySize]...),
	}
	s.log.Debug("key imported", "handle", h, "type", req.Type, "alg", req.Alg, "bits", req.KeySize*8)
	return &client.ImportKeyResp{Handle: h}, nil
}

func (s *Service) destroyKey(h client.KeyHandle) error {
	if !s.initialized {
		return client.StatusBadState
	}
	k, err := s.keys.get(h)
	if err != nil {
		return err
	}
	clear(k.data)
	delete(s.keys.keys, h)
	return nil
}
