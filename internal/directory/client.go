package directory

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/richardliu001/notification-outbox/internal/model"
)

// Client talks to the user directory service over HTTP.
type Client struct {
	http *resty.Client
}

// New builds a client for the service at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout)}
}

// Admins lists every platform administrator.
func (c *Client) Admins(ctx context.Context) ([]model.Recipient, error) {
	var out []model.Recipient
	if err := c.get(ctx, "/v1/admins", &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Type = model.RecipientAdmin
	}
	return out, nil
}

// RestaurantStaff lists users working for a restaurant, with their hub.
func (c *Client) RestaurantStaff(ctx context.Context, restaurantID uint64) ([]model.Recipient, error) {
	var out []model.Recipient
	if err := c.get(ctx, "/v1/restaurants/"+strconv.FormatUint(restaurantID, 10)+"/staff", &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Type = model.RecipientRestaurant
		out[i].ScopeID = restaurantID
	}
	return out, nil
}

// Contact returns the address of a user on one channel.
func (c *Client) Contact(ctx context.Context, userID uint64, ut model.RecipientType, ch model.ChannelType) (string, error) {
	var contacts map[string]string
	path := fmt.Sprintf("/v1/users/%s/%d/contacts", ut, userID)
	if err := c.get(ctx, path, &contacts); err != nil {
		return "", err
	}
	v, ok := contacts[string(ch)]
	if !ok || v == "" {
		return "", model.ErrNoContact
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		return fmt.Errorf("directory %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("directory %s: %w", path, model.ErrUnknownRecipient)
	}
	if resp.IsError() {
		return fmt.Errorf("directory %s: status %d", path, resp.StatusCode())
	}
	return nil
}
