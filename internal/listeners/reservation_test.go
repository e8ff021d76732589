package listeners

import (
	"context"
	"testing"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct{}

func (stubDirectory) Admins(context.Context) ([]model.Recipient, error) {
	return []model.Recipient{{ID: 1, Type: model.RecipientAdmin}}, nil
}

func (stubDirectory) RestaurantStaff(_ context.Context, id uint64) ([]model.Recipient, error) {
	return []model.Recipient{
		{ID: 10, Type: model.RecipientRestaurant, ScopeID: id},
		{ID: 11, Type: model.RecipientRestaurant, ScopeID: id},
	}, nil
}

func requestedEvent() *model.EventOutbox {
	return &model.EventOutbox{
		EventID:   "RES_123_REQUESTED",
		EventType: ReservationRequested,
		Payload:   []byte(`{"reservationId":123,"customerId":7,"restaurantId":4,"date":"2026-05-01","pax":4,"notes":"window"}`),
	}
}

func TestRestaurantReservationRequested(t *testing.T) {
	drafts, err := RestaurantReservationRequested(stubDirectory{}).Handle(context.Background(), requestedEvent())
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	for _, d := range drafts {
		assert.Equal(t, model.ScopeRestaurant, d.SharedReadScope)
		assert.Equal(t, uint64(4), d.Recipient.ScopeID)
		assert.Equal(t, "New reservation request", d.Title)
		assert.Equal(t, "New reservation #123 for 4 guests on 2026-05-01. Notes: window", d.Body)
		assert.Equal(t, "123", d.Properties["reservationId"])
	}
}

func TestCustomerReservationOutcome(t *testing.T) {
	l := CustomerReservationOutcome()
	evt := requestedEvent()
	evt.EventType = ReservationRejected

	drafts, err := l.Handle(context.Background(), evt)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, model.Recipient{ID: 7, Type: model.RecipientCustomer}, drafts[0].Recipient)
	assert.Equal(t, "Reservation declined", drafts[0].Title)

	evt.Payload = []byte(`{"reservationId":5,"customerId":null,"restaurantId":4}`)
	drafts, err = l.Handle(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestParseReservation_Invalid(t *testing.T) {
	_, err := ParseReservation([]byte(`{"reservationId":1}`))
	assert.Error(t, err)
	_, err = ParseReservation([]byte(`not json`))
	assert.Error(t, err)
}

func TestRegisterReservation(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, RegisterReservation(reg, stubDirectory{}))
	assert.Len(t, reg.For(ReservationRequested), 2)
	assert.Len(t, reg.For(ReservationConfirmed), 1)
	assert.ErrorIs(t, RegisterReservation(reg, stubDirectory{}), pipeline.ErrListenerExists)
}
