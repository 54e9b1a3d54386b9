// Licensed under the Apache-2.0 license

package verification

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// hexBytes is a byte string written as hex in vector files
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	*h = b
	return nil
}

// vectorJSON is the file representation of a CipherVector. Enumerations are
// written with their PSA names, e.g. PSA_ALG_CBC_PKCS7.
type vectorJSON struct {
	Description          string   `json:"description"`
	KeyType              string   `json:"key_type"`
	KeyData              hexBytes `json:"key_data"`
	KeyLength            *int     `json:"key_length,omitempty"`
	Usage                string   `json:"usage"`
	Alg                  string   `json:"alg"`
	IV                   hexBytes `json:"iv"`
	Input                hexBytes `json:"input"`
	OutputSize           [2]int   `json:"output_size"`
	ExpectedOutput       hexBytes `json:"expected_output"`
	ExpectedOutputLength int      `json:"expected_output_length"`
	ExpectedStatus       string   `json:"expected_status"`
}

func lookupName[T fmt.Stringer](kind, name string, values ...T) (T, error) {
	for _, v := range values {
		if v.String() == name {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, name)
}

func parseStatus(name string) (client.Status, error) {
	for s := client.StatusCorruptionDetected; s <= client.StatusSuccess; s++ {
		if s.Error() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (j *vectorJSON) toVector() (CipherVector, error) {
	kt, err := lookupName("key type", j.KeyType,
		client.KeyTypeAES, client.KeyTypeDES, client.KeyTypeChaCha20)
	if err != nil {
		return CipherVector{}, err
	}
	usage, err := lookupName("key usage", j.Usage,
		client.KeyUsageEncrypt, client.KeyUsageDecrypt, client.KeyUsageEncrypt|client.KeyUsageDecrypt)
	if err != nil {
		return CipherVector{}, err
	}
	alg, err := lookupName("algorithm", j.Alg,
		client.AlgCBCNoPadding, client.AlgCBCPKCS7, client.AlgCTR, client.AlgStreamCipher)
	if err != nil {
		return CipherVector{}, err
	}
	status, err := parseStatus(j.ExpectedStatus)
	if err != nil {
		return CipherVector{}, err
	}

	v := CipherVector{
		Description:          j.Description,
		KeyType:              kt,
		KeyData:              j.KeyData,
		KeyLength:            len(j.KeyData),
		Usage:                usage,
		Alg:                  alg,
		IV:                   j.IV,
		Input:                j.Input,
		OutputSize:           j.OutputSize,
		ExpectedOutput:       j.ExpectedOutput,
		ExpectedOutputLength: j.ExpectedOutputLength,
		ExpectedStatus:       status,
	}
	if j.KeyLength != nil {
		v.KeyLength = *j.KeyLength
	}
	return v, nil
}

// ReadCipherVectors decodes a JSON array of vectors and validates each one
func ReadCipherVectors(r io.Reader) ([]CipherVector, error) {
	var raw []vectorJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("could not decode vectors: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no vectors")
	}

	vectors := make([]CipherVector, 0, len(raw))
	for i := range raw {
		v, err := raw[i].toVector()
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i+1, err)
		}
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i+1, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// LoadCipherVectors reads vectors from a JSON file
func LoadCipherVectors(path string) ([]CipherVector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vectors, err := ReadCipherVectors(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vectors, nil
}

// WriteCipherVectors encodes vectors in the format LoadCipherVectors reads
func WriteCipherVectors(w io.Writer, vectors []CipherVector) error {
	raw := make([]vectorJSON, 0, len(vectors))
	for _, v := range vectors {
		raw = append(raw, vectorJSON{
			Description:          v.Description,
			KeyType:              v.KeyType.String(),
			KeyData:              v.KeyData,
			Usage:                v.Usage.String(),
			Alg:                  v.Alg.String(),
			IV:                   v.IV,
			Input:                v.Input,
			OutputSize:           v.OutputSize,
			ExpectedOutput:       v.ExpectedOutput,
			ExpectedOutputLength: v.ExpectedOutputLength,
			ExpectedStatus:       v.ExpectedStatus.Error(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
