// Licensed under the Apache-2.0 license

package verification

import (
	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// This file is used to test the cipher finish stage against vector tables.

// TestCipherFinish runs CipherFinishVectors
func TestCipherFinish(d client.TestPSAInstance, c client.PSAClient, t TB) {
	TestCipherFinishVectors(CipherFinishVectors)(d, c, t)
}

// TestCipherFinishVectors returns a test running the given vectors. Vectors
// for key types the target does not support are skipped.
func TestCipherFinishVectors(vectors []CipherVector) PSATestFunc {
	return func(d client.TestPSAInstance, c client.PSAClient, t TB) {
		if err := c.CryptoInit(); err != nil {
			t.Abortf("Could not initialize the crypto service: %v", err)
		}

		var supported []CipherVector
		for _, v := range vectors {
			if !supportsKeyType(d.GetSupport(), v.KeyType) {
				t.Logf("Skipping %q: target does not support %v", v.Description, v.KeyType)
				continue
			}
			supported = append(supported, v)
		}

		vc := VectorComparator{Client: c}
		for _, res := range vc.CheckAll(supported) {
			switch res.Status {
			case StatusFail:
				t.Errorf("[ERROR]: %q: %v", res.Vector.Description, res.Err)
			case StatusError:
				t.Abortf("%q: %v", res.Vector.Description, res.Err)
			}
		}
	}
}

func supportsKeyType(s *client.Support, kt client.KeyType) bool {
	switch kt {
	case client.KeyTypeAES:
		return s.AES
	case client.KeyTypeDES:
		return s.DES
	case client.KeyTypeChaCha20:
		return s.ChaCha20
	}
	return false
}
