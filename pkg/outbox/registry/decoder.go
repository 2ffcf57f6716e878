package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/partyconnect/engage-backend/pkg/enums"
	"github.com/partyconnect/engage-backend/pkg/outbox/payloads"
)

// DecoderFunc turns the envelope data of one event version into a typed value.
type DecoderFunc func(payload json.RawMessage) (interface{}, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// NewPointsDecoderRegistry registers v1 decoders for every points event.
func NewPointsDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventPointsAwarded, 1, jsonDecoder(func() interface{} { return &payloads.PointsAwardedEvent{} }))
	reg.Register(enums.EventReferralApplied, 1, jsonDecoder(func() interface{} { return &payloads.ReferralAppliedEvent{} }))
	reg.Register(enums.EventBalanceRepaired, 1, jsonDecoder(func() interface{} { return &payloads.BalanceRepairedEvent{} }))
	return reg
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
}

func jsonDecoder(factory func() interface{}) DecoderFunc {
	return func(payload json.RawMessage) (interface{}, error) {
		out := factory()
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
