package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// EnvelopeVersion is stamped on every queued event. Readers refuse newer
// versions instead of guessing at their shape.
const EnvelopeVersion = 1

var ErrEmptyPayload = errors.New("envelope has no data")

// ActorRef is who caused the event. Maintenance jobs use the system actor.
type ActorRef struct {
	ActorID string          `json:"actorId"`
	Role    enums.ActorRole `json:"role,omitempty"`
}

func ActorRefFrom(actor types.Actor) *ActorRef {
	return &ActorRef{ActorID: actor.ID, Role: actor.Role}
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and sent as
// the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	return PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}, nil
}

// DecodeEnvelope parses a stored payload and checks it carries data of a
// version this build understands.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	env.Data = bytes.TrimSpace(env.Data)
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return env, ErrEmptyPayload
	}
	return env, nil
}
