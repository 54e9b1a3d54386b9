// Licensed under the Apache-2.0 license

package client

import "fmt"

// KeyType is a psa_key_type_t
type KeyType uint32

// Supported symmetric key types
const (
	KeyTypeNone     KeyType = 0x0000
	KeyTypeAES      KeyType = 0x2400
	KeyTypeDES      KeyType = 0x2301
	KeyTypeChaCha20 KeyType = 0x2004
)

// Key sizes in bytes
const (
	AES128KeySize   = 16
	AES192KeySize   = 24
	AES256KeySize   = 32
	DESKeySize      = 8
	DES3TwoKeySize  = 16
	DES3KeySize     = 24
	ChaCha20KeySize = 32
)

// BlockSize returns the cipher block size of a key type, 1 for stream
// ciphers and 0 for unknown types.
func (k KeyType) BlockSize() int {
	switch k {
	case KeyTypeAES:
		return 16
	case KeyTypeDES:
		return 8
	case KeyTypeChaCha20:
		return 1
	}
	return 0
}

// IVSize returns the expected IV (or nonce) length for this key type.
func (k KeyType) IVSize() int {
	switch k {
	case KeyTypeChaCha20:
		return 12
	}
	return k.BlockSize()
}

// ValidKeySize reports whether n is a valid key length for this key type.
func (k KeyType) ValidKeySize(n int) bool {
	switch k {
	case KeyTypeAES:
		return n == AES128KeySize || n == AES192KeySize || n == AES256KeySize
	case KeyTypeDES:
		return n == DESKeySize || n == DES3TwoKeySize || n == DES3KeySize
	case KeyTypeChaCha20:
		return n == ChaCha20KeySize
	}
	return false
}

func (k KeyType) String() string {
	switch k {
	case KeyTypeNone:
		return "PSA_KEY_TYPE_NONE"
	case KeyTypeAES:
		return "PSA_KEY_TYPE_AES"
	case KeyTypeDES:
		return "PSA_KEY_TYPE_DES"
	case KeyTypeChaCha20:
		return "PSA_KEY_TYPE_CHACHA20"
	}
	return fmt.Sprintf("unrecognized key type 0x%04x", uint32(k))
}

// KeyUsage is a psa_key_usage_t
type KeyUsage uint32

// Supported key usage flags
const (
	KeyUsageExport  KeyUsage = 0x00000001
	KeyUsageEncrypt KeyUsage = 0x00000100
	KeyUsageDecrypt KeyUsage = 0x00000200
)

func (u KeyUsage) String() string {
	switch u {
	case KeyUsageExport:
		return "PSA_KEY_USAGE_EXPORT"
	case KeyUsageEncrypt:
		return "PSA_KEY_USAGE_ENCRYPT"
	case KeyUsageDecrypt:
		return "PSA_KEY_USAGE_DECRYPT"
	case KeyUsageEncrypt | KeyUsageDecrypt:
		return "PSA_KEY_USAGE_ENCRYPT|PSA_KEY_USAGE_DECRYPT"
	}
	return fmt.Sprintf("key usage 0x%08x", uint32(u))
}

// Algorithm is a psa_algorithm_t
type Algorithm uint32

// Supported cipher algorithms
const (
	AlgNone         Algorithm = 0
	AlgStreamCipher Algorithm = 0x04800100
	AlgCTR          Algorithm = 0x04c01000
	AlgCBCNoPadding Algorithm = 0x04404000
	AlgCBCPKCS7     Algorithm = 0x04404100

	algCategoryMask   Algorithm = 0x7f000000
	algCategoryCipher Algorithm = 0x04000000
)

// IsCipher reports whether a is an unauthenticated cipher algorithm.
func (a Algorithm) IsCipher() bool {
	return a&algCategoryMask == algCategoryCipher
}

// IsStream reports whether a produces output for every input byte, so the
// finish stage never flushes anything.
func (a Algorithm) IsStream() bool {
	return a == AlgCTR || a == AlgStreamCipher
}

// HasPadding reports whether the finish stage adds or strips padding.
func (a Algorithm) HasPadding() bool {
	return a == AlgCBCPKCS7
}

func (a Algorithm) String() string {
	switch a {
	case AlgNone:
		return "PSA_ALG_NONE"
	case AlgStreamCipher:
		return "PSA_ALG_STREAM_CIPHER"
	case AlgCTR:
		return "PSA_ALG_CTR"
	case AlgCBCNoPadding:
		return "PSA_ALG_CBC_NO_PADDING"
	case AlgCBCPKCS7:
		return "PSA_ALG_CBC_PKCS7"
	}
	return fmt.Sprintf("unrecognized algorithm 0x%08x", uint32(a))
}

// CipherFinishOutputSize is a sufficient buffer size for the finish stage:
// one block for padding modes, nothing otherwise.
func CipherFinishOutputSize(kt KeyType, alg Algorithm) int {
	if alg.HasPadding() {
		return kt.BlockSize()
	}
	return 0
}

// CipherUpdateOutputSize is a sufficient buffer size for an update of
// inputLen bytes.
func CipherUpdateOutputSize(kt KeyType, alg Algorithm, inputLen int) int {
	if alg.IsStream() {
		return inputLen
	}
	return inputLen + kt.BlockSize()
}

// KeyHandle identifies an imported key on the target
type KeyHandle uint32

// OperationHandle identifies a multipart cipher operation on the target
type OperationHandle uint32

// SID is a PSA-FF RoT Service identifier
type SID uint32

// RoT Services of the verification partitions
const (
	// SIDServerTest is visible to every client
	SIDServerTest          SID = 0x0000fa01
	// SIDServerUnextern exists but is not exposed to any client partition
	SIDServerUnextern      SID = 0x0000fa02
	// SIDServerSecureOnly refuses non-secure clients
	SIDServerSecureOnly    SID = 0x0000fa03
	// SIDServerStrictVersion only accepts ServerStrictVersion
	SIDServerStrictVersion SID = 0x0000fa04
	// SIDServerRefusing rejects every connection
	SIDServerRefusing      SID = 0x0000fa05
)

// RoT Service versions of the verification partitions
const (
	ServerTestVersion   uint32 = 1
	ServerStrictVersion uint32 = 2
)

// ConnectionHandle is a psa_handle_t
type ConnectionHandle int32

// NullHandle is PSA_NULL_HANDLE
const NullHandle ConnectionHandle = 0

// BootState is the persistent boot signature written around checks that may
// reset the target.
type BootState uint32

// Boot signatures
const (
	BootUnknown BootState = iota
	BootNotExpected
	BootExpectedNS
	BootExpectedS
	BootExpectedButFailed
	BootExpectedReenterTest
	BootExpectedContTestExec
)

func (b BootState) String() string {
	switch b {
	case BootUnknown:
		return "BOOT_UNKNOWN"
	case BootNotExpected:
		return "BOOT_NOT_EXPECTED"
	case BootExpectedNS:
		return "BOOT_EXPECTED_NS"
	case BootExpectedS:
		return "BOOT_EXPECTED_S"
	case BootExpectedButFailed:
		return "BOOT_EXPECTED_BUT_FAILED"
	case BootExpectedReenterTest:
		return "BOOT_EXPECTED_REENTER_TEST"
	case BootExpectedContTestExec:
		return "BOOT_EXPECTED_CONT_TEST_EXEC"
	}
	return fmt.Sprintf("unrecognized boot state %d", uint32(b))
}

// BootFlagStore durably persists the boot signature. SetBootFlag must not
// return before the value survives a power loss.
type BootFlagStore interface {
	SetBootFlag(state BootState) error
	GetBootFlag() (BootState, error)
}
