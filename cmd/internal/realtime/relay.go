package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "wisp/shared/contracts/realtime/v1"

	"wisp/cmd/internal/ids"
)

// Relay forwards call signaling envelopes between private rooms without
// inspecting or persisting the signal body.
type Relay struct {
	log    *slog.Logger
	hub    *Hub
	access *AccessChecker
}

// NewRelay constructs a Relay over the hub and access checker.
func NewRelay(log *slog.Logger, hub *Hub, access *AccessChecker) *Relay {
	return &Relay{log: log, hub: hub, access: access}
}

// outboundType maps an inbound signaling type to what the callee receives.
// Request/accept/end are renamed on the way through; negotiation envelopes
// pass unchanged.
func outboundType(inbound string) (string, bool) {
	switch inbound {
	case v1.TypeCallRequest:
		return v1.TypeCallIncoming, true
	case v1.TypeCallAccept:
		return v1.TypeCallAccepted, true
	case v1.TypeCallEnd:
		return v1.TypeCallEnded, true
	case v1.TypeNegoOffer, v1.TypeNegoAnswer:
		return inbound, true
	}
	return "", false
}

// Forward relays one signaling envelope from the bound sender to the
// target's private room. senderID is the registry-bound identity of the
// connection; a payload claiming a different origin is rejected.
func (r *Relay) Forward(ctx context.Context, senderID string, env v1.Envelope) error {
	out, ok := outboundType(env.Type)
	if !ok {
		return fmt.Errorf("not a signaling type: %s", env.Type)
	}

	var p v1.CallSignalPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	from := strings.TrimSpace(p.From)
	to := strings.TrimSpace(p.To)
	if from == "" || to == "" {
		return errors.New("missing from/to")
	}
	if from != senderID {
		return errors.New("from does not match session identity")
	}
	if !r.access.CanSignal(ctx, from, to) {
		return errors.New("no shared chat with peer")
	}

	fwdPayload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	fwd := newEnvelope(out, fwdPayload)

	r.hub.Broadcast(PrivateRoomID(to), fwd)
	signalRelays.WithLabelValues(env.Type).Inc()
	r.log.Debug("relay.signal", "type", env.Type, "out", out, "from", from, "to", to)
	return nil
}

// newEnvelope wraps a payload in a fresh protocol envelope. Envelope ids
// are ULIDs everywhere so server-minted ids sort by emission time.
func newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	now := time.Now().UTC()
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustULID(now),
		TS:      now,
		Payload: payload,
	}
}
