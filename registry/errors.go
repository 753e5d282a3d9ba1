package registry

import "errors"

// Sentinel errors for registry and chain operations.
// Callers may use errors.Is to check for specific failure types.
var (
	ErrDuplicateAuthority  = errors.New("duplicate authority")      // identifier already registered and overwrite not set
	ErrUnknownAuthority    = errors.New("unknown authority")        // identifier not present in the registry
	ErrInactiveAuthority   = errors.New("inactive authority")       // authority registered but currently deactivated
	ErrGenesisSlotReserved = errors.New("genesis slot reserved")    // timestamp maps to slot 0
	ErrSlotNotAdvancing    = errors.New("slot not advancing")       // block slot does not exceed the head slot
	ErrNotScheduledLeader  = errors.New("not the scheduled leader") // proposer differs from the slot's expected leader
	ErrBlockRejected       = errors.New("block rejected")           // verification failed; the chain is unchanged
)
