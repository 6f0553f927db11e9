// Package protocol defines the wire envelope exchanged with signaling clients.
//
// Every WebSocket text frame, in both directions, carries one compact JSON
// object with exactly two top-level keys:
//
//	{ "event": "<event-name>", "data": <object|string|null> }
//
// Payloads under "data" are JSON values, never double-serialized: structured
// events carry objects, the error event carries a bare JSON string. Signaling
// bodies (offer, answer, candidate) are opaque to the server and are moved
// around as json.RawMessage so relaying never re-encodes them.
package protocol

import (
	"encoding/json"
	"errors"
)

// Event names recognized by the server. EventPong is reserved for clients
// that answer application-level pings; the server never emits it.
type Event string

const (
	EventClientID     Event = "client-id"
	EventJoinRoom     Event = "join-room"
	EventLeaveRoom    Event = "leave-room"
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "ice-candidate"
	EventParticipants Event = "participants"
	EventRoomCreated  Event = "room-created"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

var (
	// ErrMalformed reports a frame that is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed envelope")
	// ErrMissingEvent reports an envelope without an event name.
	ErrMissingEvent = errors.New("protocol: envelope missing event")
)

// Envelope is the parsed {event, data} frame. Data is retained verbatim so
// the dispatcher can defer payload decoding to the event handler.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame into an Envelope.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, ErrMalformed
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// Encode serializes an outbound envelope. A nil payload omits "data".
func Encode(event Event, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// --- Payloads consumed by the server ---

// JoinRoomPayload carries the optional room reference of a join-room request.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId,omitempty"`
	RoomName string `json:"roomName,omitempty"`
}

// SignalPayload is the shared shape of offer, answer and ice-candidate
// frames. Inbound frames address a target; relayed frames identify the
// sender. Exactly one opaque body is populated, matching the event name.
type SignalPayload struct {
	TargetClientID string          `json:"targetClientId,omitempty"`
	FromClientID   string          `json:"fromClientId,omitempty"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// Body returns the opaque payload matching the event name.
func (p *SignalPayload) Body(event Event) json.RawMessage {
	switch event {
	case EventOffer:
		return p.Offer
	case EventAnswer:
		return p.Answer
	case EventICECandidate:
		return p.Candidate
	}
	return nil
}

// Relay builds the outbound payload for forwarding a signaling frame:
// the sender's identity plus the opaque body, passed through verbatim.
func (p *SignalPayload) Relay(event Event, fromClientID string) SignalPayload {
	out := SignalPayload{FromClientID: fromClientID}
	switch event {
	case EventOffer:
		out.Offer = p.Offer
	case EventAnswer:
		out.Answer = p.Answer
	case EventICECandidate:
		out.Candidate = p.Candidate
	}
	return out
}

// --- Payloads produced by the server ---

// ClientIDPayload announces the identity assigned at accept time.
type ClientIDPayload struct {
	ClientID string `json:"clientId"`
}

// RoomCreatedPayload is sent to the creator only, before the first
// participants broadcast for the room.
type RoomCreatedPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

// ParticipantsPayload lists the room's current members in slot order.
type ParticipantsPayload struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}
