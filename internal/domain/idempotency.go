package domain

import "context"

// IdempotencyRecord is what a key remembers: the reservation it produced and
// a fingerprint of the request that produced it
type IdempotencyRecord struct {
	ReservationID int64  `json:"reservationId"`
	Fingerprint   string `json:"fingerprint"`
}

// IdempotencyStore remembers which reservation a client-supplied key produced
type IdempotencyStore interface {
	// Lookup returns the record stored for key, if any
	Lookup(ctx context.Context, actorID int64, key string) (IdempotencyRecord, bool, error)
	// Remember records rec under key for the store's retention window
	Remember(ctx context.Context, actorID int64, key string, rec IdempotencyRecord) error
}
