// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package radio

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0ot/radiod/pkg/model"
)

// A Channel relays audio between its members, and lets one member at a time transmit.
type Channel struct {
	id   int
	name string
	reg  *Registry

	mtx     sync.Mutex // Protects everything below
	members []*Member
	// holder is the user ID of the member currently transmitting, or "" when the channel is idle.
	holder string
	// grant counts transmissions, so a stale timeout can tell it belongs to an earlier one.
	grant uint64
	timer *time.Timer
}

func newChannel(id int, name string, reg *Registry) *Channel {
	return &Channel{
		id:      id,
		name:    name,
		reg:     reg,
		members: make([]*Member, 0),
	}
}

// ID gets the channel's number.
func (ch *Channel) ID() int {
	return ch.id
}

// Name gets the channel's display name.
func (ch *Channel) Name() string {
	return ch.name
}

// TryStartTransmission gives the transmit slot to userID if nobody holds it.
// It returns true if userID holds the slot afterwards.
func (ch *Channel) TryStartTransmission(userID string) bool {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()

	if ch.member(userID) == nil {
		return false
	}
	if ch.holder == userID {
		return true
	}
	if ch.holder != "" {
		ch.reg.rejected.Add(1)
		return false
	}

	ch.holder = userID
	ch.grant++
	ch.reg.granted.Add(1)
	if timeout := ch.reg.transmissionTimeout; timeout > 0 {
		grant := ch.grant
		ch.timer = time.AfterFunc(timeout, func() { ch.expire(userID, grant) })
	}
	ch.broadcast(ch.status())
	return true
}

// StopTransmission releases the transmit slot if userID holds it.
// A stop from anyone else is ignored, and false is returned.
func (ch *Channel) StopTransmission(userID string) bool {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()

	if ch.holder == "" || ch.holder != userID {
		return false
	}
	ch.release()
	ch.broadcast(ch.status())
	return true
}

// expire releases a transmission that outlived the registry's transmission timeout.
func (ch *Channel) expire(userID string, grant uint64) {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()

	if ch.holder != userID || ch.grant != grant {
		return
	}
	ch.reg.log.WithFields(logrus.Fields{
		"channel": ch.id,
		"user_id": userID,
	}).Info("Transmission timed out")
	ch.reg.timeouts.Add(1)
	ch.release()
	if m := ch.member(userID); m != nil {
		ch.deliver(m, model.NewTransmissionStatus(false, model.TransmissionTimedOut))
	}
	ch.broadcast(ch.status())
}

// release clears the holder. ch.mtx must be held.
func (ch *Channel) release() {
	ch.holder = ""
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
}

// BroadcastStatus sends the channel's status to every member.
func (ch *Channel) BroadcastStatus() {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()
	ch.broadcast(ch.status())
}

// BroadcastAudio sends clip to every member but the sender.
// It returns the number of members the clip was queued for.
// Clips from a user who isn't a member are dropped.
func (ch *Channel) BroadcastAudio(clip Clip) int {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()

	sender := ch.member(clip.SenderID)
	if sender == nil {
		return 0
	}
	msg := model.AudioBroadcast{
		DefaultMessage: model.DefaultMessage{Type: "audio"},
		Channel:        ch.id,
		SenderID:       sender.UserID,
		SenderName:     sender.DisplayName(),
		AudioData:      clip.Data,
		MimeType:       clip.MimeType,
		Timestamp:      clip.ReceivedAt,
	}

	delivered := 0
	for _, m := range ch.members {
		if m.UserID == sender.UserID {
			continue
		}
		if ch.deliver(m, msg) {
			delivered++
		}
	}
	ch.reg.clips.Add(1)
	return delivered
}

// Status gets a snapshot of the channel, shaped like the channel_status message.
func (ch *Channel) Status() model.ChannelStatus {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()
	return ch.status()
}

// Summary gets the channel's entry in the channel list.
func (ch *Channel) Summary() Summary {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()

	summary := Summary{
		Channel:     ch.id,
		ChannelName: ch.name,
		UserCount:   len(ch.members),
		IsBusy:      ch.holder != "",
	}
	if ch.holder != "" {
		holder := ch.holder
		summary.TransmittingUser = &holder
	}
	return summary
}

// Summary describes a channel in the channel list.
type Summary struct {
	Channel          int     `json:"channel"`
	ChannelName      string  `json:"channel_name"`
	UserCount        int     `json:"user_count"`
	IsBusy           bool    `json:"is_busy"`
	TransmittingUser *string `json:"transmitting_user"`
}

func (ch *Channel) status() model.ChannelStatus {
	users := make([]model.UserStatus, 0, len(ch.members))
	for _, m := range ch.members {
		users = append(users, model.UserStatus{
			UserID:         m.UserID,
			Username:       m.Username,
			FullName:       m.FullName,
			IsTransmitting: m.UserID == ch.holder,
		})
	}

	status := model.ChannelStatus{
		DefaultMessage: model.DefaultMessage{Type: "channel_status"},
		Channel:        ch.id,
		ChannelName:    ch.name,
		Users:          users,
		UserCount:      len(users),
	}
	if ch.holder != "" {
		holder := ch.holder
		status.TransmittingUser = &holder
	}
	return status
}

// join adds a member and announces the new membership to everyone, including the new member.
func (ch *Channel) join(m *Member) {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()
	ch.members = append(ch.members, m)
	ch.broadcast(ch.status())
}

// leave removes userID, releasing the transmit slot if it was held,
// and announces the new membership to the remaining members.
// If session isn't empty, the member is only removed if it belongs to that session.
// The removed member is returned, or nil if nothing was removed.
func (ch *Channel) leave(userID, session string) *Member {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()

	var member *Member
	for i := 0; i < len(ch.members); i++ {
		if userID != ch.members[i].UserID {
			continue
		}
		if session != "" && session != ch.members[i].Session {
			return nil
		}
		member = ch.members[i]
		ch.members = append(ch.members[:i], ch.members[i+1:]...)
		break
	}
	if member == nil {
		return nil
	}

	if ch.holder == userID {
		ch.release()
	}
	ch.broadcast(ch.status())
	return member
}

func (ch *Channel) member(userID string) *Member {
	for _, m := range ch.members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// broadcast sends msg to every member. ch.mtx must be held.
func (ch *Channel) broadcast(msg model.Message) {
	for _, m := range ch.members {
		ch.deliver(m, msg)
	}
}

// deliver queues msg for one member. A failure only affects that member.
func (ch *Channel) deliver(m *Member, msg model.Message) bool {
	if m.Peer == nil {
		return false
	}
	if err := m.Peer.Deliver(msg); err != nil {
		ch.reg.dropped.Add(1)
		ch.reg.log.WithFields(logrus.Fields{
			"channel": ch.id,
			"user_id": m.UserID,
			"session": m.Session,
			"type":    msg.Message(),
			"error":   err,
		}).Warn("Dropped message to channel member")
		return false
	}
	return true
}
