// Package outbox carries the escrow-hold signal from the settlement
// engine to the payment subsystem. The engine writes a pending record in
// the same transaction as the settlement result; the Publisher relays
// pending records to the message broker. Delivery guarantees beyond the
// transactional write belong to the broker side.
package outbox

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// EscrowHoldRequest asks the payment subsystem to place a hold on the
// winner's funds for a settled auction. Amount is in minor units of
// Currency.
type EscrowHoldRequest struct {
	ResultID  uuid.UUID `cbor:"1,keyasint"`
	ListingID uuid.UUID `cbor:"2,keyasint"`
	WinnerID  uuid.UUID `cbor:"3,keyasint"`
	SellerID  uuid.UUID `cbor:"4,keyasint"`
	Amount    int64     `cbor:"5,keyasint"`
	Currency  string    `cbor:"6,keyasint"`
	CreatedAt time.Time `cbor:"7,keyasint"`
}

// Record is one stored outbox entry: an encoded EscrowHoldRequest plus
// relay bookkeeping. ID equals the settlement result ID, which is what
// makes the escrow signal at-most-once per auction.
type Record struct {
	ID        uuid.UUID
	Payload   []byte
	CreatedAt time.Time
	SentAt    time.Time // zero until relayed
}

// Source is the slice of the store the publisher needs.
type Source interface {
	// PendingEscrowEvents returns unsent records in creation order.
	PendingEscrowEvents(ctx context.Context, limit int) ([]Record, error)

	// MarkEscrowEventSent stamps the record as relayed; idempotent.
	MarkEscrowEventSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
}

// Encode serializes the request for storage and transport.
func Encode(req *EscrowHoldRequest) ([]byte, error) {
	return cbor.Marshal(req)
}

// Decode deserializes a stored payload.
func Decode(payload []byte) (*EscrowHoldRequest, error) {
	var req EscrowHoldRequest
	if err := cbor.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
