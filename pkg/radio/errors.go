package radio

import "github.com/pkg/errors"

var (
	// ErrInvalidChannel is returned when a channel number is outside the configured range.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrQueueFull is returned by a Peer that cannot accept another message.
	ErrQueueFull = errors.New("send queue full")
	// ErrPeerClosed is returned by a Peer whose connection has gone away.
	ErrPeerClosed = errors.New("peer closed")
)
