package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	req := &EscrowHoldRequest{
		ResultID:  uuid.New(),
		ListingID: uuid.New(),
		WinnerID:  uuid.New(),
		SellerID:  uuid.New(),
		Amount:    17500,
		Currency:  "USD",
		CreatedAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}

	payload, err := Encode(req)
	require.NoError(t, err)

	got, err := Decode(payload)
	require.NoError(t, err)
	check.Equal(t, req.ResultID, got.ResultID)
	check.Equal(t, req.ListingID, got.ListingID)
	check.Equal(t, req.WinnerID, got.WinnerID)
	check.Equal(t, req.SellerID, got.SellerID)
	check.Equal(t, req.Amount, got.Amount)
	check.Equal(t, req.Currency, got.Currency)
	check.True(t, req.CreatedAt.Equal(got.CreatedAt))
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x13})
	check.Error(t, err)
}

// fakeSource is an in-memory Source for publisher tests.
type fakeSource struct {
	mu      sync.Mutex
	records []Record
	markErr error
}

func (s *fakeSource) add(id uuid.UUID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{ID: id, Payload: payload, CreatedAt: time.Now()})
}

func (s *fakeSource) PendingEscrowEvents(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]Record, 0)
	for _, rec := range s.records {
		if rec.SentAt.IsZero() {
			pending = append(pending, rec)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (s *fakeSource) MarkEscrowEventSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.records {
		if s.records[i].ID == id {
			if s.records[i].SentAt.IsZero() {
				s.records[i].SentAt = sentAt
			}
			return nil
		}
	}
	return errors.New("record not found")
}

func (s *fakeSource) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if !rec.SentAt.IsZero() {
			n++
		}
	}
	return n
}

func mockProducer(t *testing.T) *mocks.SyncProducer {
	t.Helper()
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestPublisher_RelaysPending(t *testing.T) {
	source := &fakeSource{}
	source.add(uuid.New(), []byte("hold-1"))
	source.add(uuid.New(), []byte("hold-2"))

	producer := mockProducer(t)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	p := NewPublisher(source, producer, "auction.escrow-holds", time.Second, nil)
	p.scanOnce(context.Background())

	check.Equal(t, 2, source.sentCount())

	// Nothing left to relay; a second scan sends no messages, which the
	// mock enforces by having no further expectations.
	p.scanOnce(context.Background())
	require.NoError(t, producer.Close())
}

func TestPublisher_SendFailureRetriesTail(t *testing.T) {
	source := &fakeSource{}
	source.add(uuid.New(), []byte("hold-1"))
	source.add(uuid.New(), []byte("hold-2"))

	producer := mockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisher(source, producer, "auction.escrow-holds", time.Second, nil)
	p.scanOnce(context.Background())

	// The failed record and everything behind it stay pending.
	check.Equal(t, 0, source.sentCount())

	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	p.scanOnce(context.Background())
	check.Equal(t, 2, source.sentCount())
	require.NoError(t, producer.Close())
}

func TestPublisher_MarkFailureRepublishes(t *testing.T) {
	source := &fakeSource{}
	source.add(uuid.New(), []byte("hold-1"))
	source.markErr = errors.New("store down")

	producer := mockProducer(t)
	producer.ExpectSendMessageAndSucceed()

	p := NewPublisher(source, producer, "auction.escrow-holds", time.Second, nil)
	p.scanOnce(context.Background())
	check.Equal(t, 0, source.sentCount())

	// Publish-then-crash-before-mark means the record goes out again on
	// the next scan; consumers dedupe on the record key.
	source.markErr = nil
	producer.ExpectSendMessageAndSucceed()
	p.scanOnce(context.Background())
	check.Equal(t, 1, source.sentCount())
	require.NoError(t, producer.Close())
}

func TestPublisher_RunDrainsOnShutdown(t *testing.T) {
	source := &fakeSource{}
	source.add(uuid.New(), []byte("hold-1"))

	producer := mockProducer(t)
	producer.ExpectSendMessageAndSucceed()

	// The interval is far too long to tick; only the shutdown drain can
	// relay the record.
	p := NewPublisher(source, producer, "auction.escrow-holds", time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		check.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
	check.Equal(t, 1, source.sentCount())
	require.NoError(t, producer.Close())
}
