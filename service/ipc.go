// Licensed under the Apache-2.0 license

package service

import (
	"golang.org/x/exp/slices"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// VersionPolicy is how a RoT Service matches the version a client asks for
type VersionPolicy int

// Version policies
const (
	// VersionRelaxed accepts any version up to the service's own.
	VersionRelaxed VersionPolicy = iota
	// VersionStrict accepts only the service's own version.
	VersionStrict
)

// RoTService is one entry of the partition manifest
type RoTService struct {
	Name string
	SID  client.SID
	// Extern is set when client partitions list the service as a dependency.
	Extern           bool
	NonSecureClients bool
	Version          uint32
	VersionPolicy    VersionPolicy
	// MaxConnections is the number of simultaneous connections the service
	// accepts before refusing. Negative refuses everything, zero is no limit.
	MaxConnections int
}

// DefaultManifest returns the RoT Services used by the verification suite
func DefaultManifest() []RoTService {
	return []RoTService{
		{
			Name:             "SERVER_TEST",
			SID:              client.SIDServerTest,
			Extern:           true,
			NonSecureClients: true,
			Version:          client.ServerTestVersion,
			VersionPolicy:    VersionRelaxed,
		},
		{
			Name:             "SERVER_UNEXTERN",
			SID:              client.SIDServerUnextern,
			NonSecureClients: true,
			Version:          client.ServerTestVersion,
			VersionPolicy:    VersionRelaxed,
		},
		{
			Name:          "SERVER_SECURE_CONNECT_ONLY",
			SID:           client.SIDServerSecureOnly,
			Extern:        true,
			Version:       client.ServerTestVersion,
			VersionPolicy: VersionRelaxed,
		},
		{
			Name:             "SERVER_STRICT_VERSION",
			SID:              client.SIDServerStrictVersion,
			Extern:           true,
			NonSecureClients: true,
			Version:          client.ServerStrictVersion,
			VersionPolicy:    VersionStrict,
		},
		{
			Name:             "SERVER_CONNECTION_REFUSED",
			SID:              client.SIDServerRefusing,
			Extern:           true,
			NonSecureClients: true,
			Version:          client.ServerTestVersion,
			VersionPolicy:    VersionRelaxed,
			MaxConnections:   -1,
		},
	}
}

type connection struct {
	sid    client.SID
	caller int32
}

type connectionTable struct {
	next  client.ConnectionHandle
	conns map[client.ConnectionHandle]connection
}

func newConnectionTable() *connectionTable {
	return &connectionTable{next: 1, conns: map[client.ConnectionHandle]connection{}}
}

func (t *connectionTable) count(sid client.SID) int {
	n := 0
	for _, c := range t.conns {
		if c.sid == sid {
			n++
		}
	}
	return n
}

func (s *Service) lookupService(sid client.SID) (*RoTService, bool) {
	i := slices.IndexFunc(s.cfg.Manifest, func(r RoTService) bool { return r.SID == sid })
	if i < 0 {
		return nil, false
	}
	return &s.cfg.Manifest[i], true
}

func (s *Service) connect(caller int32, req *client.ConnectReq) (*client.ConnectResp, error) {
	if !s.cfg.Support.IPC {
		return nil, client.StatusNotSupported
	}

	rot, ok := s.lookupService(req.SID)
	switch {
	case !ok:
		return nil, s.programmerError(caller, "connect to unknown SID 0x%08x", uint32(req.SID))
	case !rot.Extern:
		return nil, s.programmerError(caller, "connect to %s, which is not exposed to clients", rot.Name)
	case client.IsNonSecure(caller) && !rot.NonSecureClients:
		return nil, s.programmerError(caller, "non-secure connect to %s", rot.Name)
	case rot.VersionPolicy == VersionStrict && req.Version != rot.Version:
		return nil, s.programmerError(caller, "connect to %s with version %d, need exactly %d", rot.Name, req.Version, rot.Version)
	case rot.VersionPolicy == VersionRelaxed && req.Version > rot.Version:
		return nil, s.programmerError(caller, "connect to %s with version %d, newest is %d", rot.Name, req.Version, rot.Version)
	}

	if rot.MaxConnections < 0 || (rot.MaxConnections > 0 && s.conns.count(rot.SID) >= rot.MaxConnections) {
		return nil, client.StatusConnectionRefused
	}

	h := s.conns.next
	s.conns.next++
	s.conns.conns[h] = connection{sid: rot.SID, caller: caller}
	s.log.Debug("connected", "caller", caller, "service", rot.Name, "handle", h)
	return &client.ConnectResp{Handle: h}, nil
}

func (s *Service) close(caller int32, h client.ConnectionHandle) error {
	if !s.cfg.Support.IPC {
		return client.StatusNotSupported
	}
	if h == client.NullHandle {
		return nil
	}
	c, ok := s.conns.conns[h]
	if !ok || c.caller != caller {
		return s.programmerError(caller, "close of invalid handle %d", h)
	}
	delete(s.conns.conns, h)
	return nil
}
