package model

import "github.com/coder/websocket"

// Close codes sent when the server ends a connection.
// Clients re-select a channel on CloseInvalidChannel and re-authenticate on CloseAuthenticationFailed.
const (
	CloseAuthenticationFailed websocket.StatusCode = 4001
	CloseInvalidChannel       websocket.StatusCode = 4004
	CloseReplaced             websocket.StatusCode = 4009
)
