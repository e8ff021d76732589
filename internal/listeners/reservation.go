package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/pipeline"
)

// Reservation event types.
const (
	ReservationRequested = "RESERVATION_REQUESTED"
	ReservationConfirmed = "RESERVATION_CONFIRMED"
	ReservationRejected  = "RESERVATION_REJECTED"
)

// Directory knows who to notify.
type Directory interface {
	Admins(ctx context.Context) ([]model.Recipient, error)
	RestaurantStaff(ctx context.Context, restaurantID uint64) ([]model.Recipient, error)
}

// ReservationPayload is the event body written by the reservation service.
type ReservationPayload struct {
	ReservationID uint64  `json:"reservationId"`
	CustomerID    *uint64 `json:"customerId"`
	RestaurantID  uint64  `json:"restaurantId"`
	Email         string  `json:"email"`
	Date          string  `json:"date"`
	Pax           int     `json:"pax"`
	Kids          int     `json:"kids"`
	Notes         string  `json:"notes"`
}

// ParseReservation decodes and checks a reservation payload.
func ParseReservation(raw []byte) (*ReservationPayload, error) {
	var p ReservationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode reservation payload: %w", err)
	}
	if p.ReservationID == 0 || p.RestaurantID == 0 {
		return nil, errors.New("reservation payload missing reservationId or restaurantId")
	}
	return &p, nil
}

func (p *ReservationPayload) props() map[string]string {
	props := map[string]string{
		"reservationId": strconv.FormatUint(p.ReservationID, 10),
		"restaurantId":  strconv.FormatUint(p.RestaurantID, 10),
		"date":          p.Date,
		"pax":           strconv.Itoa(p.Pax),
	}
	if p.Kids > 0 {
		props["kids"] = strconv.Itoa(p.Kids)
	}
	return props
}

func renderRequested(evt *model.EventOutbox) (string, string, map[string]string, error) {
	p, err := ParseReservation(evt.Payload)
	if err != nil {
		return "", "", nil, err
	}
	body := fmt.Sprintf("New reservation #%d for %d guests on %s", p.ReservationID, p.Pax, p.Date)
	if p.Notes != "" {
		body += ". Notes: " + p.Notes
	}
	return "New reservation request", body, p.props(), nil
}

// AdminReservationRequested notifies every admin, each on their own.
func AdminReservationRequested(dir Directory) *pipeline.RecipientListener {
	return &pipeline.RecipientListener{
		ListenerName: "admin-reservation-requested",
		Scope:        model.ScopeNone,
		Recipients: func(ctx context.Context, _ *model.EventOutbox) ([]model.Recipient, error) {
			return dir.Admins(ctx)
		},
		Render: renderRequested,
	}
}

// RestaurantReservationRequested notifies the restaurant's staff. The request is shared:
// the first staff member to read or act on it settles it for the whole restaurant.
func RestaurantReservationRequested(dir Directory) *pipeline.RecipientListener {
	return &pipeline.RecipientListener{
		ListenerName: "restaurant-reservation-requested",
		Scope:        model.ScopeRestaurant,
		Recipients: func(ctx context.Context, evt *model.EventOutbox) ([]model.Recipient, error) {
			p, err := ParseReservation(evt.Payload)
			if err != nil {
				return nil, err
			}
			return dir.RestaurantStaff(ctx, p.RestaurantID)
		},
		Render: renderRequested,
	}
}

// CustomerReservationOutcome tells the customer their request was confirmed or rejected.
// Anonymous reservations produce no notification.
func CustomerReservationOutcome() *pipeline.RecipientListener {
	return &pipeline.RecipientListener{
		ListenerName: "customer-reservation-outcome",
		Scope:        model.ScopeNone,
		Recipients: func(_ context.Context, evt *model.EventOutbox) ([]model.Recipient, error) {
			p, err := ParseReservation(evt.Payload)
			if err != nil {
				return nil, err
			}
			if p.CustomerID == nil {
				return nil, nil
			}
			return []model.Recipient{{ID: *p.CustomerID, Type: model.RecipientCustomer}}, nil
		},
		Render: func(evt *model.EventOutbox) (string, string, map[string]string, error) {
			p, err := ParseReservation(evt.Payload)
			if err != nil {
				return "", "", nil, err
			}
			if evt.EventType == ReservationRejected {
				return "Reservation declined",
					fmt.Sprintf("Your reservation #%d on %s could not be accepted", p.ReservationID, p.Date), p.props(), nil
			}
			return "Reservation confirmed",
				fmt.Sprintf("Your reservation #%d for %d guests on %s is confirmed", p.ReservationID, p.Pax, p.Date), p.props(), nil
		},
	}
}

// RegisterReservation wires the reservation listeners into reg.
func RegisterReservation(reg *pipeline.Registry, dir Directory) error {
	if err := reg.Register(ReservationRequested, AdminReservationRequested(dir)); err != nil {
		return err
	}
	if err := reg.Register(ReservationRequested, RestaurantReservationRequested(dir)); err != nil {
		return err
	}
	outcome := CustomerReservationOutcome()
	if err := reg.Register(ReservationConfirmed, outcome); err != nil {
		return err
	}
	return reg.Register(ReservationRejected, outcome)
}
