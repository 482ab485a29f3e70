// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/radiod/pkg/auth"
	"github.com/n0ot/radiod/pkg/model"
	"github.com/n0ot/radiod/pkg/radio"
)

// A session is one client connected to one channel.
// It is the channel's Peer for that client.
type session struct {
	srv     *Server
	conn    *websocket.Conn
	id      string
	member  *radio.Member
	channel *radio.Channel
	log     *logrus.Entry

	// send holds messages waiting to be written to the client.
	send chan model.Message
	// audio holds clips waiting to be normalized and relayed, in the order they arrived.
	audio chan radio.Clip

	done          chan struct{} // Closed when the session is stopped
	stopOnce      sync.Once
	stoppedCode   websocket.StatusCode
	stoppedReason string

	leaveOnce sync.Once
}

func newSession(srv *Server, conn *websocket.Conn, profile auth.Profile, channel *radio.Channel, cid string) *session {
	id := ksuid.New().String()
	s := &session{
		srv:     srv,
		conn:    conn,
		id:      id,
		channel: channel,
		send:    make(chan model.Message, srv.SendQueue),
		audio:   make(chan radio.Clip, audioQueueSize),
		done:    make(chan struct{}),
	}
	s.member = &radio.Member{
		UserID:   profile.UserID,
		Username: profile.Username,
		FullName: profile.FullName,
		Session:  id,
		Peer:     s,
	}
	s.log = srv.Log.WithFields(logrus.Fields{
		"session": id,
		"user_id": profile.UserID,
		"channel": channel.ID(),
		"cid":     cid,
	})
	return s
}

// Deliver queues a message for the client without blocking.
func (s *session) Deliver(msg model.Message) error {
	select {
	case <-s.done:
		return radio.ErrPeerClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return radio.ErrQueueFull
	}
}

// Evict stops a session whose user connected again.
func (s *session) Evict() {
	s.stop(model.CloseReplaced, "Replaced by a newer connection")
}

// stop stops the session. Only the first call has any effect.
func (s *session) stop(code websocket.StatusCode, reason string) {
	s.stopOnce.Do(func() {
		s.stoppedCode = code
		s.stoppedReason = reason
		close(s.done)
	})
}

func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// run joins the channel and serves the client until the connection ends.
// Leaving the channel happens here, and only here, however the connection ended.
func (s *session) run() {
	s.srv.sessions.Add(1)
	defer s.srv.sessions.Add(-1)
	defer s.leave()

	if _, err := s.srv.Registry.Join(s.channel.ID(), s.member); err != nil {
		s.log.WithField("error", err).Error("Cannot join channel")
		s.conn.Close(model.CloseInvalidChannel, "Canal inválido")
		return
	}
	s.log.Info("Session started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.writeLoop() }()
	go func() { defer wg.Done(); s.audioLoop() }()
	go func() { defer wg.Done(); s.pingLoop() }()

	go func() {
		select {
		case <-s.done:
		case <-s.srv.closing:
			s.stop(websocket.StatusGoingAway, "Server shutting down")
		}
		// Unblocks readLoop.
		s.conn.Close(s.stoppedCode, s.stoppedReason)
	}()

	s.readLoop()
	s.stop(websocket.StatusNormalClosure, "Client disconnected")
	s.leave()
	wg.Wait()

	s.log.WithFields(logrus.Fields{
		"code":   s.stoppedCode,
		"reason": s.stoppedReason,
	}).Info("Session ended")
}

// leave removes the session's member from its channel, releasing the transmit slot if it held it.
func (s *session) leave() {
	s.leaveOnce.Do(func() {
		s.srv.Registry.LeaveSession(s.member.UserID, s.id)
	})
}

// readLoop decodes messages from the client, and dispatches them until the connection fails.
func (s *session) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("Error handling client message")
			s.stop(websocket.StatusInternalError, "Internal error")
		}
	}()

	for {
		typ, data, err := s.conn.Read(context.Background())
		if err != nil {
			if !s.stopped() {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					s.log.Debug("Client closed the connection")
				} else {
					s.log.WithField("error", err).Debug("Read failed")
				}
			}
			return
		}
		if typ != websocket.MessageText {
			s.Deliver(model.NewErrorMessage("binary messages are not supported"))
			continue
		}

		msg, err := model.Decode(data)
		if err != nil {
			s.log.WithField("error", err).Debug("Cannot decode client message")
			s.Deliver(model.NewErrorMessage(err.Error()))
			continue
		}
		s.handle(msg)
	}
}

func (s *session) handle(msg model.Inbound) {
	uid := s.member.UserID
	switch msg := msg.(type) {
	case model.StartTransmission:
		s.srv.metrics.inbound.WithLabelValues("start_transmission").Inc()
		if s.channel.TryStartTransmission(uid) {
			s.Deliver(model.NewTransmissionStatus(true, model.TransmissionStarted))
		} else {
			s.Deliver(model.NewTransmissionStatus(false, model.ChannelBusy))
		}

	case model.StopTransmission:
		s.srv.metrics.inbound.WithLabelValues("stop_transmission").Inc()
		if s.channel.StopTransmission(uid) {
			s.Deliver(model.NewTransmissionStatus(true, model.TransmissionStopped))
		} else {
			s.Deliver(model.NewTransmissionStatus(false, model.NotTransmitting))
		}

	case model.Audio:
		s.srv.metrics.inbound.WithLabelValues("audio").Inc()
		clip := radio.Clip{
			SenderID:   uid,
			Data:       msg.AudioData,
			MimeType:   msg.MimeType,
			ReceivedAt: time.Now().UTC(),
		}
		select {
		case s.audio <- clip:
		default:
			s.srv.metrics.clipsDropped.Inc()
			s.log.Warn("Audio queue full; dropping clip")
		}

	case model.Ping:
		s.srv.metrics.inbound.WithLabelValues("ping").Inc()
		s.Deliver(model.NewPongMessage())

	default:
		panic(fmt.Sprintf("unhandled message %T", msg))
	}
}

// audioLoop normalizes and relays clips one at a time, so the read loop never waits on a conversion.
func (s *session) audioLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done
		cancel()
	}()

	for {
		select {
		case <-s.done:
			return
		case clip := <-s.audio:
			clip.Data, clip.MimeType = s.srv.Normalizer.Normalize(ctx, clip.Data, clip.MimeType)
			n := s.channel.BroadcastAudio(clip)
			s.log.WithFields(logrus.Fields{
				"mime_type":  clip.MimeType,
				"recipients": n,
			}).Debug("Relayed audio")
		}
	}
}

// writeLoop writes queued messages to the client.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, s.conn, msg)
			cancel()
			if err != nil {
				if !s.stopped() {
					s.log.WithField("error", err).Debug("Write failed")
				}
				s.stop(websocket.StatusInternalError, "Send error")
				return
			}
		}
	}
}

// pingLoop pings the client, and stops the session if a pong doesn't arrive in time.
func (s *session) pingLoop() {
	interval := s.srv.TimeBetweenPings
	if interval <= 0 {
		<-s.done
		return
	}
	pings := s.srv.PingsUntilTimeout
	if pings <= 0 {
		pings = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval*time.Duration(pings))
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				if !s.stopped() {
					s.log.WithField("error", err).Info("Ping timeout")
				}
				s.stop(websocket.StatusPolicyViolation, "Ping timeout")
				return
			}
		}
	}
}
