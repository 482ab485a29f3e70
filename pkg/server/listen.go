// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ListenAndServe listens for connections on the network, and serves them until Shutdown is called.
func (srv *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "Listen")
	}

	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": false,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// ListenAndServeTLS behaves just like ListenAndServe, but wraps the connection with TLS.
func (srv *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return errors.Wrap(err, "Load X.509 key pair")
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if srv.TLSConfig == nil {
		return errors.New("No TLSConfig set in server, and no certFile/keyFile given")
	}

	listener, err := tls.Listen("tcp", addr, srv.TLSConfig)
	if err != nil {
		return errors.Wrap(err, "Listen TLS")
	}

	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": true,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// Serve serves radio clients and the API on listener.
// It returns nil once the server is shut down.
func (srv *Server) Serve(listener net.Listener) error {
	srv.init()
	srv.Log.WithFields(logrus.Fields{
		"channels":            srv.Registry.NumChannels(),
		"time_between_pings":  srv.TimeBetweenPings,
		"pings_until_timeout": srv.PingsUntilTimeout,
		"canonical_encoding":  srv.Normalizer.Canonical(),
	}).Info("Server started")

	srv.httpMTX.Lock()
	srv.httpSrv = &http.Server{Handler: srv.router}
	srv.httpSrv.RegisterOnShutdown(srv.closeSessions)
	httpSrv := srv.httpSrv
	srv.httpMTX.Unlock()

	if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "Serve")
	}
	return nil
}

// Shutdown stops accepting connections, and waits for in-flight requests until ctx is done.
// Connected radio clients are disconnected.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.httpMTX.Lock()
	httpSrv := srv.httpSrv
	srv.httpMTX.Unlock()
	if httpSrv == nil {
		srv.init()
		srv.closeSessions()
		return nil
	}
	return httpSrv.Shutdown(ctx)
}

// closeSessions disconnects every session. Hijacked websocket connections aren't closed by http.Server.Shutdown.
func (srv *Server) closeSessions() {
	srv.closingOnce.Do(func() { close(srv.closing) })
}
