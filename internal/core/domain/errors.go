package domain

import "errors"

var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrChannelNotOpen       = errors.New("data channel not open")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrPlayerNotFound       = errors.New("player not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrInvalidDocument      = errors.New("invalid document")
	ErrRenegotiationIgnored = errors.New("renegotiation not supported")
)
