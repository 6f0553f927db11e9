package signaling

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/metrics"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

// Error strings sent to clients. These are part of the wire contract.
const (
	errCannotCreateRoom = "Cannot create room"
	errRoomFull         = "Room is full (max 6 participants)"
	errNotInRoom        = "Not in a room"
	errMissingTarget    = "Missing target client ID"
	errTargetNotFound   = "Target client not found in room"
)

// handleJoinRoom seats the client in the referenced room, creating one when
// the reference is absent or stale. A client already in a room leaves it
// first, exactly as if it had sent leave-room.
func (s *Server) handleJoinRoom(c *Client, data json.RawMessage) {
	var p protocol.JoinRoomPayload
	if len(data) > 0 {
		// Partial or mistyped payloads degrade to the defaults.
		_ = json.Unmarshal(data, &p)
	}

	s.handleLeaveRoom(c)

	room := s.rooms.FindByID(p.RoomID)
	if room == nil {
		var err error
		room, err = s.rooms.Create(p.RoomName, c, s.nowSec())
		if err != nil {
			logging.Warn(context.Background(), "Room registry full",
				zap.String("client_id", c.id), zap.Int("max_rooms", s.cfg.MaxRooms))
			s.sendError(c, errCannotCreateRoom)
			return
		}
		// The creator learns the room's identity before anyone sees a
		// participant list for it.
		c.send(protocol.EventRoomCreated, protocol.RoomCreatedPayload{
			RoomID:   room.id,
			RoomName: room.name,
		})
	}

	err := room.AddParticipant(c, s.nowSec())
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyInRoom):
		// Create seats the owner itself; fall through to the broadcast.
	case errors.Is(err, ErrRoomFull), errors.Is(err, ErrInOtherRoom):
		s.sendError(c, errRoomFull)
		return
	default:
		s.sendError(c, errRoomFull)
		return
	}

	logging.Info(context.Background(), "Client joined room",
		zap.String("client_id", c.id), zap.String("room_id", room.id),
		zap.Int("participants", room.participantCount))
	s.broadcastParticipants(room)
}

// handleLeaveRoom removes the client from its current room. Not being in a
// room is a silent no-op; the leaver receives nothing either way. The
// remaining members get an updated participant list unless the room is now
// empty and bound for the reaper.
func (s *Server) handleLeaveRoom(c *Client) {
	room := c.room
	if room == nil {
		return
	}
	if err := room.RemoveParticipant(c, s.nowSec()); err != nil {
		return
	}
	logging.Info(context.Background(), "Client left room",
		zap.String("client_id", c.id), zap.String("room_id", room.id),
		zap.Int("participants", room.participantCount))
	if !room.IsEmpty() {
		s.broadcastParticipants(room)
	}
}

// handleSignal relays an offer, answer or ice-candidate to a participant of
// the sender's room. Routing violations are reported to the sender and the
// frame dropped; cross-room relay is forbidden.
func (s *Server) handleSignal(c *Client, event protocol.Event, data json.RawMessage) {
	if c.room == nil {
		s.sendError(c, errNotInRoom)
		return
	}

	var p protocol.SignalPayload
	if len(data) > 0 {
		_ = json.Unmarshal(data, &p)
	}
	if p.TargetClientID == "" {
		s.sendError(c, errMissingTarget)
		return
	}

	target := c.room.FindParticipant(p.TargetClientID)
	if target == nil {
		s.sendError(c, errTargetNotFound)
		return
	}

	target.send(event, p.Relay(event, c.id))
	logging.Debug(context.Background(), "Signal relayed",
		zap.String("event", string(event)),
		zap.String("from", c.id), zap.String("to", target.id),
		zap.String("room_id", c.room.id))
}

func (s *Server) broadcastParticipants(room *Room) {
	room.Broadcast(nil, protocol.EventParticipants, protocol.ParticipantsPayload{
		RoomID:       room.id,
		Participants: room.ParticipantIDs(),
	}, s.nowSec())
}

func (s *Server) sendError(c *Client, reason string) {
	s.totalErrors.Add(1)
	metrics.Errors.Inc()
	c.send(protocol.EventError, reason)
}
