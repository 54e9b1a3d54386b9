// Licensed under the Apache-2.0 license

package verification

import (
	"fmt"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// CipherVector is one multipart cipher operation and its expected result.
// ExpectedOutput is the update output followed by the finish output, and
// ExpectedOutputLength is the number of bytes the finish stage produces.
type CipherVector struct {
	Description          string
	KeyType              client.KeyType
	KeyData              []byte
	KeyLength            int
	Usage                client.KeyUsage
	Alg                  client.Algorithm
	IV                   []byte
	Input                []byte
	OutputSize           [2]int
	ExpectedOutput       []byte
	ExpectedOutputLength int
	ExpectedStatus       client.Status
}

// Validate checks that the vector is self-consistent
func (v *CipherVector) Validate() error {
	if v.Description == "" {
		return fmt.Errorf("vector has no description")
	}
	if v.KeyLength != len(v.KeyData) {
		return fmt.Errorf("%s: key length %d does not match %d bytes of key data", v.Description, v.KeyLength, len(v.KeyData))
	}
	if len(v.KeyData) > client.MaxKeySize {
		return fmt.Errorf("%s: key of %d bytes is larger than %d", v.Description, len(v.KeyData), client.MaxKeySize)
	}
	if len(v.IV) > client.MaxIVSize {
		return fmt.Errorf("%s: IV of %d bytes is larger than %d", v.Description, len(v.IV), client.MaxIVSize)
	}
	if len(v.Input) > client.MaxChunkSize {
		return fmt.Errorf("%s: input of %d bytes is larger than %d", v.Description, len(v.Input), client.MaxChunkSize)
	}
	if v.OutputSize[0] < 0 || v.OutputSize[1] < 0 {
		return fmt.Errorf("%s: negative output size", v.Description)
	}
	if v.Usage&(client.KeyUsageEncrypt|client.KeyUsageDecrypt) == 0 {
		return fmt.Errorf("%s: usage %v neither encrypts nor decrypts", v.Description, v.Usage)
	}
	if v.ExpectedStatus == client.StatusSuccess && v.ExpectedOutputLength > len(v.ExpectedOutput) {
		return fmt.Errorf("%s: finish length %d is longer than the %d byte expected output", v.Description, v.ExpectedOutputLength, len(v.ExpectedOutput))
	}
	return nil
}

// Encrypts reports whether the vector drives an encrypt operation
func (v *CipherVector) Encrypts() bool {
	return v.Usage&client.KeyUsageEncrypt != 0
}

var (
	aes128Key = []byte{
		0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
		0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c,
	}
	desKey = []byte{
		0x01, 0x02, 0x04, 0x07, 0x08, 0x0b, 0x0d, 0x0e,
	}
	des3TwoKey = []byte{
		0x01, 0x02, 0x04, 0x07, 0x08, 0x0b, 0x0d, 0x0e,
		0xc1, 0xc2, 0xc4, 0xc7, 0xc8, 0xcb, 0xcd, 0xce,
	}
	des3Key = []byte{
		0x01, 0x02, 0x04, 0x07, 0x08, 0x0b, 0x0d, 0x0e,
		0xc1, 0xc2, 0xc4, 0xc7, 0xc8, 0xcb, 0xcd, 0xce,
		0x31, 0x32, 0x34, 0x37, 0x38, 0x3b, 0x3d, 0x3e,
	}
	aesIV = []byte{
		0x2a, 0x2a, 0x2a, 0x2a, 0x2a, 0x2a, 0x2a, 0x2a,
		0x2a, 0x2a, 0x2a, 0x2a, 0x2a, 0x2a, 0x2a, 0x2a,
	}
	desIV = aesIV[:8]

	aesPlaintext = []byte{
		0x6b, 0xc1, 0xbe, 0xe2, 0x2e, 0x40, 0x9f, 0x96,
		0xe9, 0x3d, 0x7e, 0x11, 0x73, 0x93, 0x17, 0x2a,
	}
	aesShortInput = []byte{0x6b, 0xc1, 0xbe, 0xe2, 0x23}
	desPlaintext  = []byte{0xed, 0xa4, 0x01, 0x12, 0x39, 0xbc, 0x3a, 0xc9}

	aesCBCCiphertext = []byte{
		0xa0, 0x76, 0xec, 0x9d, 0xfb, 0xe4, 0x7d, 0x52,
		0xaf, 0xc3, 0x57, 0x33, 0x6f, 0x20, 0x74, 0x3b,
	}
	aesCBCPKCS7Ciphertext = append(append([]byte(nil), aesCBCCiphertext...),
		0xca, 0x7e, 0x8a, 0x15, 0xdc, 0x3c, 0x77, 0x64,
		0x36, 0x31, 0x42, 0x93, 0x03, 0x1c, 0xd4, 0xf3,
	)
	aesCBCPKCS7ShortCiphertext = []byte{
		0x62, 0x79, 0xb4, 0x9d, 0x7f, 0x7a, 0x8d, 0xd8,
		0x7b, 0x68, 0x51, 0x75, 0xd4, 0x27, 0x6e, 0x24,
	}
	aesCTRCiphertext = []byte{
		0x8f, 0x94, 0x08, 0xfe, 0x80, 0xa8, 0x1d, 0x3e,
		0x81, 0x3d, 0xa3, 0xc7, 0xb0, 0xb2, 0xbd, 0x32,
	}
	desCBCCiphertext     = []byte{0x64, 0xf9, 0x17, 0xb0, 0x15, 0x2f, 0x8f, 0x05}
	des3TwoCBCCiphertext = []byte{0x5d, 0x06, 0x52, 0x42, 0x9c, 0x5b, 0x0a, 0xc7}
	des3CBCCiphertext    = []byte{0x81, 0x7c, 0xa7, 0xd6, 0x9b, 0x80, 0xd8, 0x6a}
)

const size32B = 32

// CipherFinishVectors are the vectors of the cipher finish test, in order.
// Vectors that expect an error keep their expected output for reference
// only; it is never compared.
var CipherFinishVectors = []CipherVector{
	{
		Description: "Encrypt - AES CBC_NO_PADDING",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding,
		IV: aesIV, Input: aesPlaintext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesCBCCiphertext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - AES CBC_NO_PADDING (Short input)",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding,
		IV: aesIV, Input: aesShortInput, OutputSize: [2]int{16, 16},
		ExpectedOutput: aesShortInput, ExpectedOutputLength: 0, ExpectedStatus: client.StatusInvalidArgument,
	},
	{
		Description: "Encrypt - AES CBC_PKCS7",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCPKCS7,
		IV: aesIV, Input: aesPlaintext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesCBCPKCS7Ciphertext, ExpectedOutputLength: 16, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - AES CBC_PKCS7 (Short input)",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCPKCS7,
		IV: aesIV, Input: aesPlaintext[:15], OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesCBCPKCS7ShortCiphertext, ExpectedOutputLength: 16, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - AES CTR",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCTR,
		IV: aesIV, Input: aesPlaintext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesCTRCiphertext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - AES CTR (short input)",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCTR,
		IV: aesIV, Input: aesPlaintext[:15], OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesCTRCiphertext[:15], ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - DES CBC (nopad)",
		KeyType:     client.KeyTypeDES, KeyData: desKey, KeyLength: client.DESKeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding,
		IV: desIV, Input: desPlaintext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: desCBCCiphertext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - 2-key 3DES CBC (nopad)",
		KeyType:     client.KeyTypeDES, KeyData: des3TwoKey, KeyLength: client.DES3TwoKeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding,
		IV: desIV, Input: desPlaintext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: des3TwoCBCCiphertext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Encrypt - 3-key 3DES CBC (nopad)",
		KeyType:     client.KeyTypeDES, KeyData: des3Key, KeyLength: client.DES3KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding,
		IV: desIV, Input: desPlaintext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: des3CBCCiphertext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "small output buffer size",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCPKCS7,
		IV: aesIV, Input: aesPlaintext, OutputSize: [2]int{size32B, 15},
		ExpectedOutput: aesCBCPKCS7Ciphertext, ExpectedOutputLength: 16, ExpectedStatus: client.StatusBufferTooSmall,
	},
	{
		Description: "Decrypt - AES CBC_NO_PADDING",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCBCNoPadding,
		IV: aesIV, Input: aesCBCCiphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesPlaintext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		// Runs as an encrypt operation, like its encrypt twin.
		Description: "Decrypt - AES CBC_NO_PADDING (Short input)",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageEncrypt, Alg: client.AlgCBCNoPadding,
		IV: aesIV, Input: aesShortInput, OutputSize: [2]int{16, 16},
		ExpectedOutput: aesShortInput, ExpectedOutputLength: 0, ExpectedStatus: client.StatusInvalidArgument,
	},
	{
		Description: "Decrypt - AES CBC_PKCS7",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCBCPKCS7,
		IV: aesIV, Input: aesCBCPKCS7Ciphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesPlaintext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Decrypt - AES CBC_PKCS7 (Short input)",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCBCPKCS7,
		IV: aesIV, Input: aesCBCPKCS7ShortCiphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesPlaintext[:15], ExpectedOutputLength: 15, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Decrypt - AES CTR",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCTR,
		IV: aesIV, Input: aesCTRCiphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesPlaintext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Decrypt - AES CTR (short input)",
		KeyType:     client.KeyTypeAES, KeyData: aes128Key, KeyLength: client.AES128KeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCTR,
		IV: aesIV, Input: aesCTRCiphertext[:15], OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: aesPlaintext[:15], ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Decrypt - DES CBC (nopad)",
		KeyType:     client.KeyTypeDES, KeyData: desKey, KeyLength: client.DESKeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCBCNoPadding,
		IV: desIV, Input: desCBCCiphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: desPlaintext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Decrypt - 2-key 3DES CBC (nopad)",
		KeyType:     client.KeyTypeDES, KeyData: des3TwoKey, KeyLength: client.DES3TwoKeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCBCNoPadding,
		IV: desIV, Input: des3TwoCBCCiphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: desPlaintext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
	{
		Description: "Decrypt - 3-key 3DES CBC (nopad)",
		KeyType:     client.KeyTypeDES, KeyData: des3Key, KeyLength: client.DES3KeySize,
		Usage: client.KeyUsageDecrypt, Alg: client.AlgCBCNoPadding,
		IV: desIV, Input: des3CBCCiphertext, OutputSize: [2]int{size32B, size32B},
		ExpectedOutput: desPlaintext, ExpectedOutputLength: 0, ExpectedStatus: client.StatusSuccess,
	},
}

// VectorPair names an encrypt vector and the decrypt vector that undoes it,
// as 1-based positions in CipherFinishVectors.
type VectorPair struct {
	Encrypt int
	Decrypt int
}

// CipherVectorPairs are the encrypt/decrypt pairs of CipherFinishVectors
var CipherVectorPairs = []VectorPair{
	{1, 11},
	{3, 13},
	{5, 15},
	{7, 17},
	{8, 18},
	{9, 19},
}
