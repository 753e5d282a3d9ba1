// Package clock provides time-to-slot conversion for the authority round.
//
// The slot clock bridges wall-clock time to the discrete slot-based time
// model used by the leader schedule. Every node must agree on slot
// boundaries so that proposer and verifiers resolve the same leader for
// the same instant.
package clock

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotalabs/rota/types"
)

// ErrOutOfRange marks timestamps that precede genesis and therefore map
// to no slot.
var ErrOutOfRange = errors.New("timestamp before genesis")

// Clock converts Unix timestamps (seconds) to slots and back. GenesisTime
// marks the start of slot 0; SlotDuration is the fixed slot length in
// seconds.
type Clock struct {
	GenesisTime  uint64
	SlotDuration uint64

	timeFunc func() time.Time // injectable for testing
}

// New creates a Clock. The slot duration must be strictly positive.
func New(genesisTime, slotDuration uint64) (*Clock, error) {
	return NewWithTimeFunc(genesisTime, slotDuration, time.Now)
}

// NewWithTimeFunc creates a Clock with a custom time source (for testing).
func NewWithTimeFunc(genesisTime, slotDuration uint64, timeFunc func() time.Time) (*Clock, error) {
	if slotDuration == 0 {
		return nil, errors.New("slot duration must be positive")
	}
	return &Clock{
		GenesisTime:  genesisTime,
		SlotDuration: slotDuration,
		timeFunc:     timeFunc,
	}, nil
}

// SlotForTimestamp returns the slot containing the given Unix timestamp.
// Fails with ErrOutOfRange for timestamps before genesis.
func (c *Clock) SlotForTimestamp(ts uint64) (types.Slot, error) {
	if ts < c.GenesisTime {
		return 0, fmt.Errorf("%w: %d precedes genesis %d", ErrOutOfRange, ts, c.GenesisTime)
	}
	return types.Slot((ts - c.GenesisTime) / c.SlotDuration), nil
}

// SlotStartTime returns the Unix timestamp at which the given slot starts.
// Total for every slot, genesis included.
func (c *Clock) SlotStartTime(slot types.Slot) uint64 {
	return c.GenesisTime + uint64(slot)*c.SlotDuration
}

// Now returns the current Unix timestamp from the injected time source.
func (c *Clock) Now() uint64 {
	return uint64(c.timeFunc().Unix())
}

// CurrentSlot returns the slot containing the present instant.
func (c *Clock) CurrentSlot() (types.Slot, error) {
	return c.SlotForTimestamp(c.Now())
}

// IsBeforeGenesis reports whether the present instant precedes genesis.
func (c *Clock) IsBeforeGenesis() bool {
	return c.Now() < c.GenesisTime
}
