// Package api
// Author: momentics@gmail.com
//
// Bounded lock-free ring contract with all-or-nothing bulk transfer.

package api

// BulkRing is a bounded ring moving items in bulk.
type BulkRing[T any] interface {
	// EnqueueBulk adds all items or none; returns ErrFull when there is no room.
	EnqueueBulk(items []T) error
	// DequeueBulk fills all of out or nothing; returns ErrInsufficient otherwise.
	DequeueBulk(out []T) error
	// EnqueueBurst adds as many items as fit and returns that count.
	EnqueueBurst(items []T) int
	// DequeueBurst removes up to len(out) items and returns the count.
	DequeueBurst(out []T) int
	// Len returns current number of items.
	Len() int
	// Cap returns the usable capacity.
	Cap() int
}
