package signaling

import (
	"context"
	"errors"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/meshrelay/signaling/internal/v1/ident"
	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/metrics"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

// MaxParticipants is the hard per-room participant cap. Not configurable.
const MaxParticipants = 6

// maxRoomNameBytes bounds the stored room name.
const maxRoomNameBytes = 63

// DefaultRoomName is used when a join creates a room without naming it.
const DefaultRoomName = "Unnamed Room"

var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("client already in this room")
	ErrInOtherRoom   = errors.New("client already in another room")
	ErrNotInRoom     = errors.New("client not in room")
	ErrRegistryFull  = errors.New("registry is full")
)

// RoomState tracks a room slot's lifecycle. RoomEmpty must stay the zero
// value: pre-allocated slots are free until Create activates them, and a
// slot is free whenever its state is not RoomActive.
type RoomState uint8

const (
	RoomEmpty RoomState = iota
	RoomActive
	RoomClosing
)

// Participant is one seat in a room. Empty iff client is nil. The client
// reference is non-owning; the client registry remains the record's owner.
type Participant struct {
	client   *Client
	joinTime int64
	isOwner  bool
}

// Client returns the seated client, or nil for an empty seat.
func (p *Participant) Client() *Client { return p.client }

// IsOwner reports whether this seat holds the room owner.
func (p *Participant) IsOwner() bool { return p.isOwner }

// Room is one slot in the room registry: a bounded set of participants with
// an owner and activity timestamps. Mutated only by the dispatcher.
type Room struct {
	id               string
	name             string
	participants     [MaxParticipants]Participant
	participantCount int
	state            RoomState
	createdAt        int64
	lastActivity     int64
	owner            *Client
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Name returns the human-readable room name.
func (r *Room) Name() string { return r.name }

// State returns the room slot's lifecycle state.
func (r *Room) State() RoomState { return r.state }

// Owner returns the current owner, or nil for an empty room.
func (r *Room) Owner() *Client { return r.owner }

// ParticipantCount returns the number of occupied seats.
func (r *Room) ParticipantCount() int { return r.participantCount }

// IsFull reports whether every seat is taken.
func (r *Room) IsFull() bool { return r.participantCount >= MaxParticipants }

// IsEmpty reports whether no seat is taken.
func (r *Room) IsEmpty() bool { return r.participantCount == 0 }

// Participants exposes the seat array for invariant checks and tests.
func (r *Room) Participants() *[MaxParticipants]Participant { return &r.participants }

// init resets the slot for a new occupant. The owner, if given, takes the
// first seat.
func (r *Room) init(name string, owner *Client, nowSec int64) {
	*r = Room{
		id:           ident.New(),
		name:         truncateName(name),
		state:        RoomActive,
		createdAt:    nowSec,
		lastActivity: nowSec,
		owner:        owner,
	}
	if owner != nil {
		_ = r.AddParticipant(owner, nowSec)
	}
}

// cleanup detaches every participant and marks the slot reusable.
func (r *Room) cleanup() {
	for i := range r.participants {
		if c := r.participants[i].client; c != nil {
			c.room = nil
			c.state = StateConnected
		}
		r.participants[i] = Participant{}
	}
	r.participantCount = 0
	r.state = RoomClosing
	r.owner = nil
}

// AddParticipant seats a client in the lowest-index empty seat. It rejects
// full rooms, duplicates, and clients whose back-reference points at another
// room. On success the client's state and back-reference are updated and the
// room's activity refreshed.
func (r *Room) AddParticipant(c *Client, nowSec int64) error {
	if r.IsFull() {
		return ErrRoomFull
	}
	if r.FindParticipant(c.id) != nil {
		return ErrAlreadyInRoom
	}
	if c.room != nil && c.room != r {
		return ErrInOtherRoom
	}

	for i := range r.participants {
		if r.participants[i].client != nil {
			continue
		}
		r.participants[i] = Participant{
			client:   c,
			joinTime: nowSec,
			isOwner:  r.owner == c,
		}
		r.participantCount++
		r.lastActivity = nowSec

		c.room = r
		c.state = StateInRoom

		metrics.RoomParticipants.WithLabelValues(r.id).Set(float64(r.participantCount))
		return nil
	}

	// Unreachable while participantCount matches the seat array.
	return ErrRoomFull
}

// RemoveParticipant clears the client's seat and resets its state to
// connected. If the departing client owned a non-empty room, the lowest-index
// remaining participant is promoted.
func (r *Room) RemoveParticipant(c *Client, nowSec int64) error {
	for i := range r.participants {
		if r.participants[i].client != c {
			continue
		}
		r.participants[i] = Participant{}
		r.participantCount--
		r.lastActivity = nowSec

		c.room = nil
		c.state = StateConnected

		if r.owner == c {
			r.owner = nil
			for j := range r.participants {
				if next := r.participants[j].client; next != nil {
					r.owner = next
					r.participants[j].isOwner = true
					logging.Info(context.Background(), "Transferred room ownership",
						zap.String("room_id", r.id), zap.String("client_id", next.id))
					break
				}
			}
		}

		if r.participantCount > 0 {
			metrics.RoomParticipants.WithLabelValues(r.id).Set(float64(r.participantCount))
		} else {
			metrics.RoomParticipants.DeleteLabelValues(r.id)
		}
		return nil
	}
	return ErrNotInRoom
}

// FindParticipant returns the seated client with the given ID, or nil.
func (r *Room) FindParticipant(clientID string) *Client {
	for i := range r.participants {
		if c := r.participants[i].client; c != nil && c.id == clientID {
			return c
		}
	}
	return nil
}

// ParticipantIDs lists occupied seats in slot order.
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, 0, r.participantCount)
	for i := range r.participants {
		if c := r.participants[i].client; c != nil {
			ids = append(ids, c.id)
		}
	}
	return ids
}

// Broadcast encodes the envelope once and sends it to every live,
// non-excluded participant. Returns the number of successful sends.
func (r *Room) Broadcast(exclude *Client, event protocol.Event, data any, nowSec int64) int {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode broadcast",
			zap.String("room_id", r.id), zap.String("event", string(event)), zap.Error(err))
		return 0
	}

	sent := 0
	for i := range r.participants {
		c := r.participants[i].client
		if c == nil || c == exclude || !c.alive {
			continue
		}
		if c.sendRaw(frame) {
			sent++
		}
	}
	r.lastActivity = nowSec
	return sent
}

// truncateName bounds a room name to maxRoomNameBytes without splitting a
// UTF-8 sequence. Empty names fall back to DefaultRoomName.
func truncateName(name string) string {
	if name == "" {
		return DefaultRoomName
	}
	if len(name) <= maxRoomNameBytes {
		return name
	}
	cut := maxRoomNameBytes
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// RoomRegistry is a fixed-capacity slotted table of rooms. A slot whose
// state is not RoomActive is free for reuse.
type RoomRegistry struct {
	rooms        []Room
	activeCount  int
	totalCreated uint64
}

// NewRoomRegistry pre-allocates maxRooms slots.
func NewRoomRegistry(maxRooms int) *RoomRegistry {
	return &RoomRegistry{rooms: make([]Room, maxRooms)}
}

// Create initializes the first inactive slot as a new room.
func (r *RoomRegistry) Create(name string, owner *Client, nowSec int64) (*Room, error) {
	for i := range r.rooms {
		if r.rooms[i].state == RoomActive {
			continue
		}
		room := &r.rooms[i]
		room.init(name, owner, nowSec)
		r.activeCount++
		r.totalCreated++
		metrics.ActiveRooms.Inc()
		logging.Info(context.Background(), "Room created",
			zap.String("room_id", room.id), zap.String("name", room.name),
			zap.Int("active", r.activeCount), zap.Int("max", len(r.rooms)))
		return room, nil
	}
	return nil, ErrRegistryFull
}

// FindByID returns the active room with the given identifier, or nil.
func (r *RoomRegistry) FindByID(roomID string) *Room {
	if roomID == "" {
		return nil
	}
	for i := range r.rooms {
		if r.rooms[i].state == RoomActive && r.rooms[i].id == roomID {
			return &r.rooms[i]
		}
	}
	return nil
}

// FindByClient scans every active room for the client. The client's own
// back-reference is the fast path; this exists for audits and tests.
func (r *RoomRegistry) FindByClient(c *Client) *Room {
	for i := range r.rooms {
		if r.rooms[i].state != RoomActive {
			continue
		}
		for j := range r.rooms[i].participants {
			if r.rooms[i].participants[j].client == c {
				return &r.rooms[i]
			}
		}
	}
	return nil
}

// ReapEmpty frees every active room with no participants. Returns the number
// of rooms reclaimed.
func (r *RoomRegistry) ReapEmpty() int {
	reaped := 0
	for i := range r.rooms {
		room := &r.rooms[i]
		if room.state != RoomActive || !room.IsEmpty() {
			continue
		}
		metrics.RoomParticipants.DeleteLabelValues(room.id)
		room.cleanup()
		r.activeCount--
		reaped++
		metrics.ActiveRooms.Dec()
	}
	if reaped > 0 {
		logging.Info(context.Background(), "Reaped empty rooms",
			zap.Int("count", reaped), zap.Int("active", r.activeCount))
	}
	return reaped
}

// ActiveCount returns the number of active rooms.
func (r *RoomRegistry) ActiveCount() int { return r.activeCount }

// TotalCreated returns the number of rooms created since startup.
func (r *RoomRegistry) TotalCreated() uint64 { return r.totalCreated }
