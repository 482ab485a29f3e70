// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package radio implements numbered push-to-talk channels.
package radio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/radiod/pkg/model"
)

// DefaultChannels is the number of channels when Config.Channels is unset.
const DefaultChannels = 15

// Config holds the settings for a Registry.
type Config struct {
	// Channels is the number of channels, numbered 1 through Channels.
	Channels int
	// Names overrides the display name of individual channels.
	Names map[int]string
	// TransmissionTimeout releases a transmission that has gone on this long.
	// If 0, transmissions last until stopped or the holder leaves.
	TransmissionTimeout time.Duration
}

// A Registry holds every channel, and keeps each user in at most one of them.
type Registry struct {
	log                 *logrus.Logger
	startedAt           time.Time
	transmissionTimeout time.Duration
	channels            []*Channel // channels[i] is channel number i+1; never changes after New

	mtx          sync.Mutex // Protects everything below; taken before any channel's lock
	index        map[string]*Channel
	maxMembers   int
	maxMembersAt time.Time

	granted  atomic.Uint64
	rejected atomic.Uint64
	timeouts atomic.Uint64
	clips    atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a registry with all of its channels idle and empty.
func New(log *logrus.Logger, config Config) *Registry {
	if config.Channels <= 0 {
		config.Channels = DefaultChannels
	}
	now := time.Now()
	reg := &Registry{
		log:                 log,
		startedAt:           now,
		transmissionTimeout: config.TransmissionTimeout,
		channels:            make([]*Channel, config.Channels),
		index:               make(map[string]*Channel),
		maxMembersAt:        now,
	}
	for i := range reg.channels {
		id := i + 1
		name := config.Names[id]
		if name == "" {
			name = fmt.Sprintf("Canal %d", id)
		}
		reg.channels[i] = newChannel(id, name, reg)
	}
	return reg
}

// Channel gets a channel by number.
func (reg *Registry) Channel(id int) (*Channel, error) {
	if id < 1 || id > len(reg.channels) {
		return nil, errors.Wrapf(ErrInvalidChannel, "channel %d not in 1..%d", id, len(reg.channels))
	}
	return reg.channels[id-1], nil
}

// NumChannels gets the number of channels.
func (reg *Registry) NumChannels() int {
	return len(reg.channels)
}

// JoinResult describes the outcome of a join.
type JoinResult struct {
	Channel *Channel
	// Previous is the channel the user was moved out of, or nil.
	Previous *Channel
	// Replaced is true if the user's membership belonged to a different session, which was evicted.
	Replaced bool
}

// Join adds a member to a channel.
// If the user is in another channel, or in this one from another session,
// they will be removed from it first, and the removal announced to that channel.
func (reg *Registry) Join(id int, m *Member) (JoinResult, error) {
	ch, err := reg.Channel(id)
	if err != nil {
		return JoinResult{}, err
	}

	reg.mtx.Lock()
	defer reg.mtx.Unlock()

	var result JoinResult
	result.Channel = ch
	if old, ok := reg.index[m.UserID]; ok {
		prev := old.leave(m.UserID, "")
		if old != ch {
			result.Previous = old
		}
		if prev != nil && prev.Session != m.Session {
			result.Replaced = true
			if prev.Peer != nil {
				prev.Peer.Evict()
			}
		}
		reg.log.WithFields(logrus.Fields{
			"user_id":  m.UserID,
			"from":     old.id,
			"to":       ch.id,
			"replaced": result.Replaced,
		}).Info("Moved user out of previous channel")
	}

	ch.join(m)
	reg.index[m.UserID] = ch
	if len(reg.index) > reg.maxMembers {
		reg.maxMembers = len(reg.index)
		reg.maxMembersAt = time.Now()
	}

	reg.log.WithFields(logrus.Fields{
		"channel": ch.id,
		"user_id": m.UserID,
		"session": m.Session,
	}).Info("Joined channel")
	return result, nil
}

// Leave removes a user from whatever channel it is in.
// Leaving while not in a channel does nothing.
func (reg *Registry) Leave(userID string) {
	reg.leave(userID, "")
}

// LeaveSession removes a user from its channel, but only if its membership belongs to session.
// This lets a replaced connection clean up without removing the connection that replaced it.
func (reg *Registry) LeaveSession(userID, session string) {
	reg.leave(userID, session)
}

func (reg *Registry) leave(userID, session string) {
	reg.mtx.Lock()
	defer reg.mtx.Unlock()

	ch, ok := reg.index[userID]
	if !ok {
		return
	}
	if ch.leave(userID, session) == nil {
		return
	}
	delete(reg.index, userID)

	reg.log.WithFields(logrus.Fields{
		"channel": ch.id,
		"user_id": userID,
		"session": session,
	}).Info("Left channel")
}

// ChannelOf gets the channel a user is in, if any.
func (reg *Registry) ChannelOf(userID string) (*Channel, bool) {
	reg.mtx.Lock()
	defer reg.mtx.Unlock()
	ch, ok := reg.index[userID]
	return ch, ok
}

// Snapshot gets the status of one channel.
func (reg *Registry) Snapshot(id int) (model.ChannelStatus, error) {
	ch, err := reg.Channel(id)
	if err != nil {
		return model.ChannelStatus{}, err
	}
	return ch.Status(), nil
}

// Summaries lists every channel in order.
func (reg *Registry) Summaries() []Summary {
	summaries := make([]Summary, 0, len(reg.channels))
	for _, ch := range reg.channels {
		summaries = append(summaries, ch.Summary())
	}
	return summaries
}

// Stats contains statistics about a running registry.
type Stats struct {
	Uptime                time.Duration `json:"uptime"`
	NumChannels           int           `json:"num_channels"`
	BusyChannels          int           `json:"busy_channels"`
	NumMembers            int           `json:"num_members"`
	MaxMembers            int           `json:"max_members"`
	MaxMembersAt          time.Time     `json:"max_members_at"`
	TransmissionsGranted  uint64        `json:"transmissions_granted"`
	TransmissionsRejected uint64        `json:"transmissions_rejected"`
	TransmissionTimeouts  uint64        `json:"transmission_timeouts"`
	ClipsRelayed          uint64        `json:"clips_relayed"`
	DeliveriesDropped     uint64        `json:"deliveries_dropped"`
}

// Stats gets stats about the registry.
func (reg *Registry) Stats() Stats {
	busy := 0
	for _, summary := range reg.Summaries() {
		if summary.IsBusy {
			busy++
		}
	}

	reg.mtx.Lock()
	defer reg.mtx.Unlock()
	return Stats{
		Uptime:                time.Since(reg.startedAt),
		NumChannels:           len(reg.channels),
		BusyChannels:          busy,
		NumMembers:            len(reg.index),
		MaxMembers:            reg.maxMembers,
		MaxMembersAt:          reg.maxMembersAt,
		TransmissionsGranted:  reg.granted.Load(),
		TransmissionsRejected: reg.rejected.Load(),
		TransmissionTimeouts:  reg.timeouts.Load(),
		ClipsRelayed:          reg.clips.Load(),
		DeliveriesDropped:     reg.dropped.Load(),
	}
}
