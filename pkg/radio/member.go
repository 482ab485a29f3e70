// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package radio

import (
	"time"

	"github.com/n0ot/radiod/pkg/model"
)

// A Peer delivers messages to one connection.
// Neither method may block, or call back into the Registry.
type Peer interface {
	// Deliver queues msg for the connection, or returns an error if it can't be queued.
	Deliver(msg model.Message) error
	// Evict tells the connection it was replaced by a newer connection of the same user.
	Evict()
}

// A Member is a connection's presence in a channel.
type Member struct {
	UserID   string
	Username string
	FullName string
	// Session identifies the connection, so that a stale connection can't remove a newer one.
	Session string
	Peer    Peer `json:"-"`
}

// DisplayName is the name shown to other members.
func (m *Member) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	return m.Username
}

// A Clip is one audio message on its way to the rest of a channel.
type Clip struct {
	SenderID   string
	Data       string
	MimeType   string
	ReceivedAt time.Time
}
