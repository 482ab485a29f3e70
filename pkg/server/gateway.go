package server

import (
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/radiod/pkg/auth"
	"github.com/n0ot/radiod/pkg/model"
	"github.com/n0ot/radiod/pkg/radio"
)

// handleRadio accepts a websocket connection to a channel, and serves it until it ends.
// The channel number is checked before the token, so a client can tell which one to fix from the close code.
func (srv *Server) handleRadio(c *gin.Context) {
	opts := &websocket.AcceptOptions{OriginPatterns: srv.AllowedOrigins}
	if len(srv.AllowedOrigins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		srv.Log.WithFields(logrus.Fields{
			"remote_addr": c.ClientIP(),
			"error":       err,
		}).Info("Cannot accept websocket connection")
		return
	}
	conn.SetReadLimit(srv.MaxMessageSize)

	cid := cidFrom(c)
	log := srv.Log.WithFields(logrus.Fields{
		"remote_addr": c.ClientIP(),
		"cid":         cid,
	})

	ch, err := srv.channelParam(c)
	if err != nil {
		log.WithField("error", err).Info("Refused connection to invalid channel")
		srv.metrics.connections.WithLabelValues("invalid_channel").Inc()
		conn.Close(model.CloseInvalidChannel, "Canal inválido")
		return
	}

	profile, err := srv.authenticate(c)
	if err != nil {
		log.WithFields(logrus.Fields{
			"channel": ch.ID(),
			"error":   err,
		}).Info("Refused connection with invalid credentials")
		srv.metrics.connections.WithLabelValues("auth_failed").Inc()
		conn.Close(model.CloseAuthenticationFailed, "Token inválido o expirado")
		return
	}

	srv.metrics.connections.WithLabelValues("accepted").Inc()
	newSession(srv, conn, profile, ch, cid).run()
}

func (srv *Server) channelParam(c *gin.Context) (*radio.Channel, error) {
	id, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		return nil, errors.Wrapf(radio.ErrInvalidChannel, "%q", c.Param("channel"))
	}
	return srv.Registry.Channel(id)
}

// authenticate verifies the connection's token, and looks up who it belongs to.
// The token is read from the token query parameter, or a bearer Authorization header.
func (srv *Server) authenticate(c *gin.Context) (auth.Profile, error) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	ctx := c.Request.Context()
	id, err := srv.Verifier.Verify(ctx, token)
	if err != nil {
		return auth.Profile{}, err
	}
	profile, err := srv.Directory.Lookup(ctx, id.UserID)
	if err != nil {
		return auth.Profile{}, errors.Wrap(err, "look up user")
	}
	profile.UserID = id.UserID
	return profile, nil
}
