// Package protocol encodes the steady-state data channel messages: guest
// input (guest to host) and state snapshots (host to guests). Payloads are
// compact JSON text whose key names are shared with existing browser clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"duelnet/internal/core/domain"
	"duelnet/pkg/optimize"
	"duelnet/pkg/utils"
)

// Data channel labels.
const (
	InputChannelLabel = "input"
	StateChannelLabel = "state"
)

// MaxMessageSize bounds inbound payloads.
const MaxMessageSize = 16 * 1024

// MaxNameLength is the longest display name, in runes, carried in a state
// message. Member documents are cut to it on join; EncodeState and
// DecodeState cut anything longer.
const MaxNameLength = utils.MaxNameLength

var ErrDecode = errors.New("protocol: decode failed")

var buffers = optimize.NewBufferPool(256, 8*1024)

// InputPayload is the "p" object of an input message.
type InputPayload struct {
	MoveX  float64 `json:"mx"`
	Crouch bool    `json:"cr"`
	Punch  bool    `json:"pu"`
	Kick   bool    `json:"ki"`
	Jump   int     `json:"ju"`
}

// InputMessage is sent guest to host.
type InputMessage struct {
	T     int64        `json:"t"`
	Seq   int64        `json:"seq"`
	Input InputPayload `json:"p"`
}

// StatePlayer is one player entry of a state message.
type StatePlayer struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	HP   float64 `json:"hp"`
}

// StateMessage is broadcast host to guests.
type StateMessage struct {
	T       int64         `json:"t"`
	Players []StatePlayer `json:"players"`
}

// NewInputMessage stamps local input with a timestamp and sequence number.
func NewInputMessage(in domain.LocalInput, now time.Time, seq int64) InputMessage {
	return InputMessage{
		T:   utils.EpochMillis(now),
		Seq: seq,
		Input: InputPayload{
			MoveX:  clampUnit(in.MoveX),
			Crouch: in.Crouch,
			Punch:  in.PunchPressed,
			Kick:   in.KickPressed,
			Jump:   in.JumpDir(),
		},
	}
}

// Snapshot converts a decoded message into the simulation's input shape.
func (m InputMessage) Snapshot(receivedAt time.Time) domain.InputSnapshot {
	return domain.InputSnapshot{
		MoveX:      m.Input.MoveX,
		JumpDir:    m.Input.Jump,
		Crouch:     m.Input.Crouch,
		Punch:      m.Input.Punch,
		Kick:       m.Input.Kick,
		SentAt:     utils.FromEpochMillis(m.T),
		Seq:        m.Seq,
		ReceivedAt: receivedAt,
	}
}

// RemotePlayers converts a decoded state message for the renderer.
func (m StateMessage) RemotePlayers() []domain.RemotePlayer {
	players := make([]domain.RemotePlayer, 0, len(m.Players))
	for _, p := range m.Players {
		players = append(players, domain.RemotePlayer{
			ID:   domain.PeerID(p.ID),
			Name: p.Name,
			X:    p.X,
			Y:    p.Y,
			HP:   p.HP,
		})
	}
	return players
}

func EncodeInput(msg InputMessage) (string, error) {
	msg.Input.MoveX = clampUnit(msg.Input.MoveX)
	msg.Input.Jump = truncateDir(float64(msg.Input.Jump))
	return encode(msg)
}

func EncodeState(msg StateMessage) (string, error) {
	if msg.Players == nil {
		msg.Players = []StatePlayer{}
	}
	for i := range msg.Players {
		p := &msg.Players[i]
		p.Name = utils.SanitizeName(p.Name)
		p.X = finite(p.X)
		p.Y = finite(p.Y)
		p.HP = finite(p.HP)
	}
	return encode(msg)
}

func encode(v interface{}) (string, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("protocol: encode failed: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

type rawInputPayload struct {
	MoveX  flexNumber `json:"mx"`
	Crouch flexBool   `json:"cr"`
	Punch  flexBool   `json:"pu"`
	Kick   flexBool   `json:"ki"`
	Jump   flexNumber `json:"ju"`
}

type rawInputMessage struct {
	T     flexNumber       `json:"t"`
	Seq   flexNumber       `json:"seq"`
	Input *rawInputPayload `json:"p"`
}

// DecodeInput parses an input message. Out-of-range or mistyped fields are
// clamped or defaulted; only payloads that are not a JSON object fail.
func DecodeInput(payload []byte) (InputMessage, error) {
	if len(payload) > MaxMessageSize {
		return InputMessage{}, fmt.Errorf("%w: input message of %d bytes", ErrDecode, len(payload))
	}
	var raw rawInputMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return InputMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	msg := InputMessage{
		T:   nonNegativeInt(raw.T),
		Seq: nonNegativeInt(raw.Seq),
	}
	if raw.Input != nil {
		msg.Input.MoveX = clampUnit(float64(raw.Input.MoveX))
		msg.Input.Jump = truncateDir(float64(raw.Input.Jump))
		msg.Input.Crouch = bool(raw.Input.Crouch)
		msg.Input.Punch = bool(raw.Input.Punch)
		msg.Input.Kick = bool(raw.Input.Kick)
	}
	return msg, nil
}

type rawStatePlayer struct {
	ID   interface{} `json:"id"`
	Name interface{} `json:"name"`
	X    flexNumber  `json:"x"`
	Y    flexNumber  `json:"y"`
	HP   flexNumber  `json:"hp"`
}

type rawStateMessage struct {
	T       flexNumber        `json:"t"`
	Players []json.RawMessage `json:"players"`
}

// DecodeState parses a state message. Player entries that are not objects or
// carry no id are skipped; missing numbers default to zero.
func DecodeState(payload []byte) (StateMessage, error) {
	if len(payload) > MaxMessageSize {
		return StateMessage{}, fmt.Errorf("%w: state message of %d bytes", ErrDecode, len(payload))
	}
	var raw rawStateMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return StateMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	msg := StateMessage{
		T:       nonNegativeInt(raw.T),
		Players: make([]StatePlayer, 0, len(raw.Players)),
	}
	for _, entry := range raw.Players {
		var rp rawStatePlayer
		if err := json.Unmarshal(entry, &rp); err != nil {
			continue
		}
		id := idString(rp.ID)
		if id == "" {
			continue
		}
		name, _ := rp.Name.(string)
		msg.Players = append(msg.Players, StatePlayer{
			ID:   id,
			Name: utils.SanitizeName(name),
			X:    float64(rp.X),
			Y:    float64(rp.Y),
			HP:   float64(rp.HP),
		})
	}
	return msg, nil
}

// flexBool accepts JSON booleans and numbers; anything else is false.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		*b = false
		return nil
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case float64:
		*b = t != 0
	default:
		*b = false
	}
	return nil
}

// flexNumber accepts JSON numbers; anything else decodes as zero.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		*n = 0
		return nil
	}
	if f, ok := v.(float64); ok {
		*n = flexNumber(f)
	} else {
		*n = 0
	}
	return nil
}

func idString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// truncateDir truncates toward zero and clamps to {-1, 0, 1}.
func truncateDir(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	t := math.Trunc(v)
	switch {
	case t >= 1:
		return 1
	case t <= -1:
		return -1
	default:
		return 0
	}
}

func nonNegativeInt(n flexNumber) int64 {
	v := float64(n)
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
