// Package portal serves the captive configuration portal.
//
// The portal speaks just enough HTTP for a phone browser joined to the
// fallback access point: every request gets either the credential form or,
// once a submission arrives, a confirmation page. Requests are handled one
// at a time on a plain TCP listener. The first valid submission is saved
// and ends Serve.
package portal

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"time"

	"github.com/muurk/drowsiwatch/internal/credentials"
	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultAddr is the portal's listen address.
	DefaultAddr = ":80"

	// MaxRequestBytes is the most read from a single request.
	MaxRequestBytes = 1024

	// DefaultReadTimeout bounds the wait for a client's request.
	DefaultReadTimeout = 5 * time.Second
)

const responseHeader = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n"

const formPage = "<html><body><h1>Enter WiFi Credentials</h1>" +
	"<form action=\"/\" method=\"GET\">" +
	"SSID: <input type=\"text\" name=\"ssid\"><br>" +
	"Password: <input type=\"text\" name=\"password\"><br>" +
	"<input type=\"submit\" value=\"Submit\">" +
	"</form></body></html>"

const successPage = "<html><body><h1>Configuration Saved!</h1>" +
	"<p>SSID: %s</p><p>Password: %s</p>" +
	"<p>Please restart the device.</p></body></html>"

// CredentialSaver persists a submission. *credentials.Store implements it.
type CredentialSaver interface {
	Save(creds credentials.WiFiCredentials) error
}

// Server is the captive portal.
type Server struct {
	store CredentialSaver

	// ReadTimeout bounds the wait for each request.
	ReadTimeout time.Duration
}

// New creates a portal that saves submissions to store.
func New(store CredentialSaver) *Server {
	return &Server{
		store:       store,
		ReadTimeout: DefaultReadTimeout,
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (*credentials.WiFiCredentials, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for portal on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln one at a time until a submission is saved.
//
// It returns the saved credentials, or the save error if persisting failed.
// Cancelling ctx closes ln and returns ctx.Err(). The listener is closed
// when Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) (*credentials.WiFiCredentials, error) {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logging.Info("Portal listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, fmt.Errorf("portal listener closed: %w", err)
			}
			logging.Error("Failed to accept portal connection", zap.Error(err))
			continue
		}

		creds, err := s.handleConnection(conn)
		if err != nil {
			return nil, err
		}
		if creds != nil {
			return creds, nil
		}
	}
}

// handleConnection answers one request. It returns credentials only when a
// submission was saved, and an error only when saving failed.
func (s *Server) handleConnection(conn net.Conn) (*credentials.WiFiCredentials, error) {
	remoteAddr := conn.RemoteAddr().String()
	defer func() {
		_ = conn.Close()
		logging.LogConnection(remoteAddr, "portal_connection_closed")
	}()

	logging.LogConnection(remoteAddr, "portal_client_connected")

	if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
		logging.Warn("Failed to set portal read deadline",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
	}

	buf := make([]byte, MaxRequestBytes)
	n, err := conn.Read(buf)
	if n == 0 {
		logging.Warn("Portal client sent no request",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		return nil, nil
	}

	request := string(buf[:n])
	logging.Debug("Portal request",
		zap.String("remote_addr", remoteAddr),
		zap.String("content", request),
	)

	creds, ok := ParseSubmission(request)
	if !ok {
		s.writePage(conn, remoteAddr, formPage)
		return nil, nil
	}

	if err := s.store.Save(creds); err != nil {
		return nil, fmt.Errorf("failed to save submitted credentials: %w", err)
	}

	logging.Info("Portal received credentials",
		zap.String("remote_addr", remoteAddr),
		zap.String("ssid", creds.SSID),
	)
	s.writePage(conn, remoteAddr, fmt.Sprintf(successPage, html.EscapeString(creds.SSID), html.EscapeString(creds.Password)))
	return &creds, nil
}

func (s *Server) writePage(conn net.Conn, remoteAddr, body string) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.ReadTimeout))
	if _, err := conn.Write([]byte(responseHeader + body)); err != nil {
		logging.Warn("Failed to write portal page",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
	}
}
