// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package model contains the messages exchanged with radio clients.
package model

import "time"

// A Message is sent to clients.
// All Messages should wrap DefaultMessage, so they have a Type field which marshals to json as "type."
type Message interface {
	Message() string
}

// DefaultMessage implements Message, and has a type.
type DefaultMessage struct {
	Type string `json:"type"`
}

// Message gets the type of a DefaultMessage.
func (msg DefaultMessage) Message() string {
	return msg.Type
}

// An ErrorMessage is sent to clients when a message they sent could not be handled.
type ErrorMessage struct {
	DefaultMessage
	Error string `json:"error"`
}

// NewErrorMessage creates an error message with the specified reason.
func NewErrorMessage(reason string) ErrorMessage {
	return ErrorMessage{
		DefaultMessage: DefaultMessage{"error"},
		Error:          reason,
	}
}

// UserStatus describes one member of a channel.
type UserStatus struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	IsTransmitting bool   `json:"is_transmitting"`
}

// ChannelStatus is broadcast to every member whenever a channel's membership or transmitter changes.
type ChannelStatus struct {
	DefaultMessage
	Channel          int          `json:"channel"`
	ChannelName      string       `json:"channel_name"`
	Users            []UserStatus `json:"users"`
	UserCount        int          `json:"user_count"`
	TransmittingUser *string      `json:"transmitting_user"`
}

// TransmissionStatus answers a start_transmission or stop_transmission request.
type TransmissionStatus struct {
	DefaultMessage
	Success bool   `json:"success"`
	Text    string `json:"message"`
}

// NewTransmissionStatus creates a transmission_status reply.
func NewTransmissionStatus(success bool, text string) TransmissionStatus {
	return TransmissionStatus{
		DefaultMessage: DefaultMessage{"transmission_status"},
		Success:        success,
		Text:           text,
	}
}

// AudioBroadcast relays a clip to the other members of a channel.
type AudioBroadcast struct {
	DefaultMessage
	Channel    int       `json:"channel"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	AudioData  string    `json:"audio_data"`
	MimeType   string    `json:"mime_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// PongMessage answers a ping.
type PongMessage struct {
	DefaultMessage
}

// NewPongMessage creates a pong.
func NewPongMessage() PongMessage {
	return PongMessage{DefaultMessage{"pong"}}
}

// Replies sent in transmission_status messages.
const (
	TransmissionStarted  = "Transmisión iniciada"
	TransmissionStopped  = "Transmisión finalizada"
	ChannelBusy          = "Canal ocupado"
	NotTransmitting      = "No estás transmitiendo"
	TransmissionTimedOut = "Tiempo de transmisión agotado"
)
