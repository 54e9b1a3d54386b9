// Licensed under the Apache-2.0 license

package client

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol constants
const (
	CmdMagic  uint32 = 0x50534143
	RespMagic uint32 = 0x50534152

	CurrentCryptoMajorVersion    uint16 = 1
	CurrentCryptoMinorVersion    uint16 = 0
	CurrentFrameworkMajorVersion uint16 = 1
	CurrentFrameworkMinorVersion uint16 = 0
)

// CommandCode is a PSA wire command code
type CommandCode uint32

// Command codes
const (
	CommandGetInfo            CommandCode = 0x01
	CommandCryptoInit         CommandCode = 0x02
	CommandImportKey          CommandCode = 0x10
	CommandDestroyKey         CommandCode = 0x11
	CommandCipherEncryptSetup CommandCode = 0x20
	CommandCipherDecryptSetup CommandCode = 0x21
	CommandCipherSetIV        CommandCode = 0x22
	CommandCipherUpdate       CommandCode = 0x23
	CommandCipherFinish       CommandCode = 0x24
	CommandCipherAbort        CommandCode = 0x25
	CommandConnect            CommandCode = 0x30
	CommandClose              CommandCode = 0x31
	CommandSetBootFlag        CommandCode = 0x40
	CommandGetBootFlag        CommandCode = 0x41
)

func (c CommandCode) String() string {
	switch c {
	case CommandGetInfo:
		return "GetInfo"
	case CommandCryptoInit:
		return "CryptoInit"
	case CommandImportKey:
		return "ImportKey"
	case CommandDestroyKey:
		return "DestroyKey"
	case CommandCipherEncryptSetup:
		return "CipherEncryptSetup"
	case CommandCipherDecryptSetup:
		return "CipherDecryptSetup"
	case CommandCipherSetIV:
		return "CipherSetIV"
	case CommandCipherUpdate:
		return "CipherUpdate"
	case CommandCipherFinish:
		return "CipherFinish"
	case CommandCipherAbort:
		return "CipherAbort"
	case CommandConnect:
		return "Connect"
	case CommandClose:
		return "Close"
	case CommandSetBootFlag:
		return "SetBootFlag"
	case CommandGetBootFlag:
		return "GetBootFlag"
	}
	return fmt.Sprintf("command 0x%x", uint32(c))
}

// CommandHdr is the command header common to all commands
type CommandHdr struct {
	Magic   uint32
	Cmd     CommandCode
	Version uint32
}

// RespHdr is the response header common to all responses
type RespHdr struct {
	Magic   uint32
	Status  Status
	Version uint32
}

// GetInfoResp is the response from GetInfo
type GetInfoResp struct {
	CryptoMajorVersion    uint16
	CryptoMinorVersion    uint16
	FrameworkMajorVersion uint16
	FrameworkMinorVersion uint16
	MaxKeySlots           uint32
	Flags                 uint32
}

// ImportKeyReq is the input request to ImportKey
type ImportKeyReq struct {
	Type    KeyType
	Usage   KeyUsage
	Alg     Algorithm
	KeySize uint32
	KeyData [MaxKeySize]byte
}

// ImportKeyResp is the output response from ImportKey
type ImportKeyResp struct {
	Handle KeyHandle
}

// DestroyKeyReq is the input request to DestroyKey
type DestroyKeyReq struct {
	Handle KeyHandle
}

// CipherSetupReq is the input request to CipherEncryptSetup and
// CipherDecryptSetup
type CipherSetupReq struct {
	Handle KeyHandle
	Alg    Algorithm
}

// CipherSetupResp is the output response from a cipher setup
type CipherSetupResp struct {
	Operation OperationHandle
}

// CipherSetIVReq is the input request to CipherSetIV
type CipherSetIVReq struct {
	Operation OperationHandle
	IVSize    uint32
	IV        [MaxIVSize]byte
}

// CipherUpdateReq is the input request to CipherUpdate
type CipherUpdateReq struct {
	Operation  OperationHandle
	OutputSize uint32
	InputSize  uint32
	Input      [MaxChunkSize]byte
}

// CipherFinishReq is the input request to CipherFinish
type CipherFinishReq struct {
	Operation  OperationHandle
	OutputSize uint32
}

// CipherOutputResp is the output response from CipherUpdate and CipherFinish
type CipherOutputResp struct {
	OutputLength uint32
	Output       [MaxOutputSize]byte
}

// CipherAbortReq is the input request to CipherAbort
type CipherAbortReq struct {
	Operation OperationHandle
}

// ConnectReq is the input request to Connect
type ConnectReq struct {
	SID     SID
	Version uint32
}

// ConnectResp is the output response from Connect
type ConnectResp struct {
	Handle ConnectionHandle
}

// CloseReq is the input request to Close
type CloseReq struct {
	Handle ConnectionHandle
}

// BootFlag is the request to SetBootFlag and the response from GetBootFlag
type BootFlag struct {
	State BootState
}

// checkRespHdr checks that the response header has all expected values and did not indicate an error.
func checkRespHdr(hdr RespHdr) error {
	if hdr.Magic != RespMagic {
		return fmt.Errorf("invalid response magic value 0x%08x", hdr.Magic)
	}
	if hdr.Status != StatusSuccess {
		return hdr.Status
	}
	return nil
}

// execCommand executes the command. It returns the response header in the case of success.
// cmd must be a struct of fixed-size values (or pointer to such), and rsp must be a pointer to such a struct.
func execCommand(t Transport, code CommandCode, cmd any, rsp any) (*RespHdr, error) {
	hdr := CommandHdr{
		Magic:   CmdMagic,
		Cmd:     code,
		Version: uint32(CurrentCryptoMajorVersion)<<16 | uint32(CurrentCryptoMinorVersion),
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, cmd); err != nil {
		return nil, err
	}

	resp, err := t.SendCmd(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%v: %w", code, err)
	}

	respHdr := RespHdr{}

	r := bytes.NewReader(resp)
	if err = binary.Read(r, binary.LittleEndian, &respHdr); err != nil {
		return nil, fmt.Errorf("%v: malformed response header: %w", code, err)
	}
	if err = checkRespHdr(respHdr); err != nil {
		return nil, err
	}

	if err = binary.Read(r, binary.LittleEndian, rsp); err != nil {
		return nil, fmt.Errorf("%v: malformed response: %w", code, err)
	}

	return &respHdr, nil
}

// PSAABI is a connection to a PSA target speaking the wire ABI.
type PSAABI struct {
	transport Transport
	Info      GetInfoResp
}

// NewPSAABI initializes a new PSA client.
func NewPSAABI(t Transport) (*PSAABI, error) {
	rsp, err := getInfo(t)
	if err != nil {
		return nil, fmt.Errorf("could not query target info: %w", err)
	}

	if rsp.CryptoMajorVersion != CurrentCryptoMajorVersion {
		return nil, fmt.Errorf("unknown PSA Crypto API version %d.%d", rsp.CryptoMajorVersion, rsp.CryptoMinorVersion)
	}
	if rsp.FrameworkMajorVersion != CurrentFrameworkMajorVersion {
		return nil, fmt.Errorf("unknown PSA-FF version %d.%d", rsp.FrameworkMajorVersion, rsp.FrameworkMinorVersion)
	}

	return &PSAABI{transport: t, Info: *rsp}, nil
}

// getInfo is an internal helper for handling GetInfo as part of either the client API or initialization.
func getInfo(t Transport) (*GetInfoResp, error) {
	// GetInfo does not take any parameters.
	cmd := struct{}{}

	var respStruct GetInfoResp
	if _, err := execCommand(t, CommandGetInfo, cmd, &respStruct); err != nil {
		return nil, err
	}

	return &respStruct, nil
}

// GetTransportSupport gets the features advertised by the target behind `t`
func GetTransportSupport(t Transport) (Support, error) {
	rsp, err := getInfo(t)
	if err != nil {
		return Support{}, err
	}
	return SupportFromFlags(rsp.Flags), nil
}

// GetInfo calls the GetInfo command
func (c *PSAABI) GetInfo() (*GetInfoResp, error) {
	return getInfo(c.transport)
}

// CryptoInit calls the CryptoInit command
func (c *PSAABI) CryptoInit() error {
	_, err := execCommand(c.transport, CommandCryptoInit, struct{}{}, &struct{}{})
	return err
}

// ImportKey calls the ImportKey command
func (c *PSAABI) ImportKey(attrs KeyAttributes, data []byte) (KeyHandle, error) {
	if len(data) > MaxKeySize {
		return 0, fmt.Errorf("key of %d bytes exceeds the %d byte maximum", len(data), MaxKeySize)
	}

	cmd := ImportKeyReq{
		Type:    attrs.Type,
		Usage:   attrs.Usage,
		Alg:     attrs.Alg,
		KeySize: uint32(len(data)),
	}
	copy(cmd.KeyData[:], data)

	var resp ImportKeyResp
	if _, err := execCommand(c.transport, CommandImportKey, &cmd, &resp); err != nil {
		return 0, err
	}
	return resp.Handle, nil
}

// DestroyKey calls the DestroyKey command
func (c *PSAABI) DestroyKey(handle KeyHandle) error {
	cmd := DestroyKeyReq{Handle: handle}
	_, err := execCommand(c.transport, CommandDestroyKey, &cmd, &struct{}{})
	return err
}

func (c *PSAABI) cipherSetup(code CommandCode, handle KeyHandle, alg Algorithm) (OperationHandle, error) {
	cmd := CipherSetupReq{Handle: handle, Alg: alg}

	var resp CipherSetupResp
	if _, err := execCommand(c.transport, code, &cmd, &resp); err != nil {
		return 0, err
	}
	return resp.Operation, nil
}

// CipherEncryptSetup calls the CipherEncryptSetup command
func (c *PSAABI) CipherEncryptSetup(handle KeyHandle, alg Algorithm) (OperationHandle, error) {
	return c.cipherSetup(CommandCipherEncryptSetup, handle, alg)
}

// CipherDecryptSetup calls the CipherDecryptSetup command
func (c *PSAABI) CipherDecryptSetup(handle KeyHandle, alg Algorithm) (OperationHandle, error) {
	return c.cipherSetup(CommandCipherDecryptSetup, handle, alg)
}

// CipherSetIV calls the CipherSetIV command
func (c *PSAABI) CipherSetIV(op OperationHandle, iv []byte) error {
	if len(iv) > MaxIVSize {
		return fmt.Errorf("IV of %d bytes exceeds the %d byte maximum", len(iv), MaxIVSize)
	}

	cmd := CipherSetIVReq{Operation: op, IVSize: uint32(len(iv))}
	copy(cmd.IV[:], iv)

	_, err := execCommand(c.transport, CommandCipherSetIV, &cmd, &struct{}{})
	return err
}

// cipherOutput extracts the output bytes and checks that the target did not
// write past the caller's buffer.
func cipherOutput(resp *CipherOutputResp, outputSize int) ([]byte, error) {
	if resp.OutputLength > MaxOutputSize {
		return nil, fmt.Errorf("target reported %d output bytes, which is larger than %d", resp.OutputLength, MaxOutputSize)
	}
	if int(resp.OutputLength) > outputSize {
		return nil, fmt.Errorf("target wrote %d bytes into a %d byte buffer", resp.OutputLength, outputSize)
	}
	return resp.Output[:resp.OutputLength], nil
}

// CipherUpdate calls the CipherUpdate command with an output buffer of
// outputSize bytes.
func (c *PSAABI) CipherUpdate(op OperationHandle, input []byte, outputSize int) ([]byte, error) {
	if len(input) > MaxChunkSize {
		return nil, fmt.Errorf("input of %d bytes exceeds the %d byte chunk size", len(input), MaxChunkSize)
	}
	if outputSize < 0 {
		return nil, errors.New("negative output size")
	}

	cmd := CipherUpdateReq{
		Operation:  op,
		OutputSize: uint32(outputSize),
		InputSize:  uint32(len(input)),
	}
	copy(cmd.Input[:], input)

	var resp CipherOutputResp
	if _, err := execCommand(c.transport, CommandCipherUpdate, &cmd, &resp); err != nil {
		return nil, err
	}
	return cipherOutput(&resp, outputSize)
}

// CipherFinish calls the CipherFinish command with an output buffer of
// outputSize bytes.
func (c *PSAABI) CipherFinish(op OperationHandle, outputSize int) ([]byte, error) {
	if outputSize < 0 {
		return nil, errors.New("negative output size")
	}

	cmd := CipherFinishReq{Operation: op, OutputSize: uint32(outputSize)}

	var resp CipherOutputResp
	if _, err := execCommand(c.transport, CommandCipherFinish, &cmd, &resp); err != nil {
		return nil, err
	}
	return cipherOutput(&resp, outputSize)
}

// CipherAbort calls the CipherAbort command
func (c *PSAABI) CipherAbort(op OperationHandle) error {
	cmd := CipherAbortReq{Operation: op}
	_, err := execCommand(c.transport, CommandCipherAbort, &cmd, &struct{}{})
	return err
}

// Connect calls the Connect command. The call may never return normally: a
// target is allowed to terminate the caller on a programmer error, which the
// transport reports as ErrTargetReset or ErrWatchdogTimeout.
func (c *PSAABI) Connect(sid SID, version uint32) (ConnectionHandle, error) {
	cmd := ConnectReq{SID: sid, Version: version}

	var resp ConnectResp
	if _, err := execCommand(c.transport, CommandConnect, &cmd, &resp); err != nil {
		return NullHandle, err
	}
	return resp.Handle, nil
}

// Close calls the Close command
func (c *PSAABI) Close(handle ConnectionHandle) error {
	cmd := CloseReq{Handle: handle}
	_, err := execCommand(c.transport, CommandClose, &cmd, &struct{}{})
	return err
}

// SetBootFlag writes the boot signature to the target's non-volatile memory
func (c *PSAABI) SetBootFlag(state BootState) error {
	cmd := BootFlag{State: state}
	_, err := execCommand(c.transport, CommandSetBootFlag, &cmd, &struct{}{})
	return err
}

// GetBootFlag reads the boot signature from the target's non-volatile memory
func (c *PSAABI) GetBootFlag() (BootState, error) {
	var resp BootFlag
	if _, err := execCommand(c.transport, CommandGetBootFlag, struct{}{}, &resp); err != nil {
		return BootUnknown, err
	}
	return resp.State, nil
}
