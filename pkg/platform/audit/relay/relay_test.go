package relay

//go:generate mockgen -source=relay.go -destination=mocks/mocks.go -package=mocks Outbox,Producer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/relay/mocks"
	"corebank/pkg/platform/circuit"
	txcontext "corebank/pkg/platform/tx"
)

type RelaySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	outbox   *mocks.MockOutbox
	producer *mocks.MockProducer
	breaker  *circuit.Breaker
	now      time.Time
	relay    *Relay
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.outbox = mocks.NewMockOutbox(s.ctrl)
	s.producer = mocks.NewMockProducer(s.ctrl)
	s.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.breaker = circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return s.now }),
	)
	s.relay = New(s.outbox, s.producer, txcontext.NewMemoryManager(),
		WithBreaker(s.breaker),
		WithBatchSize(10),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *RelaySuite) entries(n int) ([]audit.OutboxEntry, []uuid.UUID) {
	entries := make([]audit.OutboxEntry, n)
	ids := make([]uuid.UUID, n)
	for i := range entries {
		ids[i] = uuid.New()
		entries[i] = audit.OutboxEntry{ID: ids[i], EventType: "loan.repaid", PartitionKey: "t1", Payload: []byte("{}")}
	}
	return entries, ids
}

func (s *RelaySuite) TestPublishesAndMarksBatch() {
	entries, ids := s.entries(3)
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), 10).Return(entries, nil)
	s.producer.EXPECT().Publish(gomock.Any(), entries).Return(nil)
	s.outbox.EXPECT().MarkPublished(gomock.Any(), ids, s.now).Return(nil)

	n, err := s.relay.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(3, n)
}

func (s *RelaySuite) TestEmptyOutboxIsNoop() {
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), 10).Return(nil, nil)

	n, err := s.relay.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RelaySuite) TestPublishFailureRecordsAttempt() {
	entries, ids := s.entries(2)
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), 10).Return(entries, nil)
	s.producer.EXPECT().Publish(gomock.Any(), entries).Return(errors.New("broker down"))
	s.outbox.EXPECT().RecordAttempt(gomock.Any(), ids).Return(nil)

	n, err := s.relay.RunOnce(context.Background())
	s.Require().ErrorContains(err, "broker down")
	s.Zero(n)
	s.False(s.breaker.IsOpen())
}

func (s *RelaySuite) TestBreakerOpensAndWithholdsDelivery() {
	entries, _ := s.entries(1)
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), 10).Return(entries, nil).Times(2)
	s.producer.EXPECT().Publish(gomock.Any(), entries).Return(errors.New("broker down")).Times(2)
	s.outbox.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	_, _ = s.relay.RunOnce(context.Background())
	_, _ = s.relay.RunOnce(context.Background())
	s.True(s.breaker.IsOpen())

	_, err := s.relay.RunOnce(context.Background())
	s.ErrorIs(err, ErrCircuitOpen)
}

func (s *RelaySuite) TestBreakerProbeClosesAfterCooldown() {
	entries, ids := s.entries(1)
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), 10).Return(entries, nil).Times(3)
	gomock.InOrder(
		s.producer.EXPECT().Publish(gomock.Any(), entries).Return(errors.New("broker down")).Times(2),
		s.producer.EXPECT().Publish(gomock.Any(), entries).Return(nil),
	)
	s.outbox.EXPECT().RecordAttempt(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.outbox.EXPECT().MarkPublished(gomock.Any(), ids, gomock.Any()).Return(nil)

	_, _ = s.relay.RunOnce(context.Background())
	_, _ = s.relay.RunOnce(context.Background())
	s.Require().True(s.breaker.IsOpen())

	s.now = s.now.Add(2 * time.Minute)
	n, err := s.relay.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
	s.False(s.breaker.IsOpen())
}

func (s *RelaySuite) TestFetchErrorPropagates() {
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), 10).Return(nil, errors.New("db gone"))

	_, err := s.relay.RunOnce(context.Background())
	s.ErrorContains(err, "db gone")
}

func (s *RelaySuite) TestRunStopsOnCancel() {
	s.outbox.EXPECT().FetchUnpublished(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	r := New(s.outbox, s.producer, txcontext.NewMemoryManager(), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("relay did not stop")
	}
}
