package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/admins", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	})
	mux.HandleFunc("/v1/restaurants/123/staff", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":10,"hub_id":5},{"id":11,"hub_id":5}]`))
	})
	mux.HandleFunc("/v1/users/RESTAURANT_USER/10/contacts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"EMAIL":"chef@example.com","SMS":""}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Recipients(t *testing.T) {
	c := New(newServer(t).URL, time.Second)
	ctx := context.Background()

	admins, err := c.Admins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Recipient{{ID: 1, Type: model.RecipientAdmin}, {ID: 2, Type: model.RecipientAdmin}}, admins)

	staff, err := c.RestaurantStaff(ctx, 123)
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, model.Recipient{ID: 10, Type: model.RecipientRestaurant, ScopeID: 123, HubID: 5}, staff[0])
}

func TestClient_Contact(t *testing.T) {
	c := New(newServer(t).URL, time.Second)
	ctx := context.Background()

	email, err := c.Contact(ctx, 10, model.RecipientRestaurant, model.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "chef@example.com", email)

	_, err = c.Contact(ctx, 10, model.RecipientRestaurant, model.ChannelSMS)
	assert.ErrorIs(t, err, model.ErrNoContact)

	_, err = c.Contact(ctx, 99, model.RecipientCustomer, model.ChannelSMS)
	assert.ErrorIs(t, err, model.ErrUnknownRecipient)
}
