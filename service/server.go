// Licensed under the Apache-2.0 license

package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"
)

// readTimeout bounds how long a client may take to send its command
const readTimeout = 5 * time.Second

// Server exposes a Service on a stream listener. Each connection carries
// one command: a little-endian int32 caller ID followed by the command. The
// client half-closes the connection after writing, and the server answers
// with the response and closes it.
type Server struct {
	svc *Service
	log *slog.Logger
}

// NewServer creates a server for svc
func NewServer(svc *Service, log *slog.Logger) *Server {
	if log == nil {
		log = svc.log
	}
	return &Server{svc: svc, log: log.With("component", "server")}
}

// Serve accepts connections until ctx is cancelled, which returns nil. It
// returns ErrCallerPanic when a caller panicked; the target must then
// go down without answering anything else.
func (srv *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = srv.handleConn(conn)
		switch {
		case errors.Is(err, ErrCallerPanic):
			conn.Close()
			return err
		case errors.Is(err, ErrCallerHang):
			// Keep the caller blocked until the target is powered off.
			srv.log.Warn("hanging until power off")
			<-ctx.Done()
			conn.Close()
			return nil
		case err != nil:
			srv.log.Warn("dropped connection", "err", err)
		}
		conn.Close()
	}
}

func (srv *Server) handleConn(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	req, err := io.ReadAll(conn)
	if err != nil {
		return err
	}

	var caller int32
	r := bytes.NewReader(req)
	if err := binary.Read(r, binary.LittleEndian, &caller); err != nil {
		return errors.New("command without caller ID")
	}

	resp, err := srv.svc.Handle(caller, req[4:])
	if err != nil {
		return err
	}
	_, err = conn.Write(resp)
	return err
}
