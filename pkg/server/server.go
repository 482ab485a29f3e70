// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package server implements the radio server: the websocket gateway, client sessions, and a read-only HTTP API.
package server

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/radiod/pkg/auth"
	"github.com/n0ot/radiod/pkg/media"
	"github.com/n0ot/radiod/pkg/radio"
)

const (
	defaultSendQueue      = 64
	defaultMaxMessageSize = 10 << 20
	audioQueueSize        = 8
	writeTimeout          = 10 * time.Second
)

// Server Contains state for a radio server.
type Server struct {
	// TimeBetweenPings specifies the amount of time that will elapse before clients will be sent a ping.
	// If 0, no pings will be sent.
	TimeBetweenPings time.Duration

	// PingsUntilTimeout specifies the number of ping intervals a client has to answer a ping before it is dropped.
	// If TimeBetweenPings is 0, this field has no effect.
	PingsUntilTimeout int

	// TLSConfig optionally provides a TLS configuration for use by ListenAndServeTLS.
	TLSConfig *tls.Config

	// StatsPassword sets the password for retrieving stats. If empty, stats are not served.
	StatsPassword string

	// StatsFailureDelay is how long a request with the wrong stats password waits before it is answered.
	StatsFailureDelay time.Duration

	// AllowedOrigins lists the origin patterns websocket connections are accepted from.
	// If empty, any origin is accepted.
	AllowedOrigins []string

	// SendQueue is the number of messages buffered for each client before messages to it are dropped.
	SendQueue int

	// MaxMessageSize limits the size of a message read from a client.
	MaxMessageSize int64

	Log        *logrus.Logger
	Registry   *radio.Registry
	Normalizer *media.Normalizer
	Verifier   auth.Verifier
	Directory  auth.Directory

	initOnce sync.Once
	router   *gin.Engine
	metrics  *metrics
	sessions atomic.Int64
	// closing is closed when the server shuts down, to disconnect every session.
	closing     chan struct{}
	closingOnce sync.Once

	httpMTX sync.Mutex // Protects httpSrv
	httpSrv *http.Server
}

// Handler gets the HTTP handler serving the gateway and the API.
func (srv *Server) Handler() http.Handler {
	srv.init()
	return srv.router
}

func (srv *Server) init() {
	srv.initOnce.Do(func() {
		if srv.Log == nil {
			srv.Log = logrus.StandardLogger()
		}
		if srv.SendQueue <= 0 {
			srv.SendQueue = defaultSendQueue
		}
		if srv.MaxMessageSize <= 0 {
			srv.MaxMessageSize = defaultMaxMessageSize
		}
		srv.closing = make(chan struct{})
		srv.metrics = newMetrics(srv)
		srv.router = srv.routes()
	})
}

func (srv *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), cidMiddleware(), srv.otelMiddleware(), srv.logMiddleware())

	r.GET("/ws/radio/:channel", srv.handleRadio)

	api := r.Group("/api")
	api.GET("/radio/channels", srv.handleListChannels)
	api.GET("/radio/channels/:channel", srv.handleChannelStatus)
	api.GET("/stats", srv.handleStats)

	r.GET("/health", srv.handleHealth)
	r.GET("/metrics", gin.WrapH(srv.metrics.handler()))
	return r
}

// ActiveSessions gets the number of connected clients.
func (srv *Server) ActiveSessions() int {
	return int(srv.sessions.Load())
}
