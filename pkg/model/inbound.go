// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Inbound is a message received from a client.
// The set of implementations is closed; Decode is the only way to get one.
type Inbound interface {
	inbound()
}

// StartTransmission asks for the channel's transmit slot.
type StartTransmission struct{}

// StopTransmission releases the channel's transmit slot.
type StopTransmission struct{}

// Audio carries one clip to relay to the rest of the channel.
type Audio struct {
	AudioData string `json:"audio_data"`
	MimeType  string `json:"mime_type"`
}

// Ping asks the server for a pong.
type Ping struct{}

func (StartTransmission) inbound() {}
func (StopTransmission) inbound()  {}
func (Audio) inbound()             {}
func (Ping) inbound()              {}

// ErrUnknownType is returned by Decode when the type discriminator isn't recognized.
var ErrUnknownType = errors.New("unknown message type")

// Decode parses a client message by its "type" field.
func Decode(data []byte) (Inbound, error) {
	var head DefaultMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}

	switch head.Type {
	case "start_transmission":
		return StartTransmission{}, nil
	case "stop_transmission":
		return StopTransmission{}, nil
	case "ping":
		return Ping{}, nil
	case "audio":
		var msg Audio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, errors.Wrap(err, "decode audio")
		}
		if msg.AudioData == "" {
			return nil, errors.New("audio message has no audio_data")
		}
		return msg, nil
	case "":
		return nil, errors.New(`"type" key must be a non-empty string`)
	}
	return nil, errors.Wrapf(ErrUnknownType, "%q", head.Type)
}
