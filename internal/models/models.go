// Package models defines the value records shared by the monitor's packages.
package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Slot is a candidate appointment date returned by the slot search.
// The upstream returns dates only; Time is cosmetic and usually empty.
type Slot struct {
	Date string `json:"date"` // YYYY-MM-DD
	Time string `json:"time,omitempty"`
}

// SearchParams identifies what the monitor is hunting for. Fixed for the
// lifetime of a run.
type SearchParams struct {
	LocationID    string `json:"locationId"`
	PartySize     int    `json:"partySize"`
	CountryName   string `json:"countryName,omitempty"`
	ConsulateName string `json:"consulateName,omitempty"`
	ServiceName   string `json:"serviceName,omitempty"`
	OnlyChildren  bool   `json:"onlyChildren"`
}

// CheckSlotsResult is the full record returned by the slot-search endpoint.
// ConsulateID and ServiceType are carried opaquely for collaborators that
// build the reservation form URL.
type CheckSlotsResult struct {
	Slots       []Slot `json:"slots"`
	Token       string `json:"token"`
	ConsulateID string `json:"consulateId"`
	ServiceType string `json:"serviceType"`
	LocationID  string `json:"locationId"`
}

// ReservationTicket is a server-issued ticket. A non-empty TicketID is the
// only success indicator the upstream provides.
type ReservationTicket struct {
	TicketID           string `json:"ticketId"`
	Date               string `json:"date"`
	Time               string `json:"time,omitempty"`
	IsChildApplication bool   `json:"isChildApplication"`
}

// ReservationResult is the outcome of a successful reservation.
type ReservationResult struct {
	PrimaryTicket      ReservationTicket   `json:"primaryTicket"`
	Tickets            []ReservationTicket `json:"tickets"`
	IsChildApplication bool                `json:"isChildApplication"`
}

// Consulate is one bookable post within a country.
type Consulate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Country groups the consulates available for one country.
type Country struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Consulates []Consulate `json:"consulates"`
}

// ErrorEntry is one classified failure recorded in a loop's error log.
type ErrorEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Class          string    `json:"class"`
	RawMessage     string    `json:"rawMessage"`
	UpstreamReason string    `json:"upstreamReason,omitempty"`
	Context        string    `json:"context"`
}

// NewErrorEntry builds an ErrorEntry with a fresh ULID and timestamp.
func NewErrorEntry(class, rawMessage, upstreamReason, context string) ErrorEntry {
	return ErrorEntry{
		ID:             ulid.Make().String(),
		Timestamp:      time.Now(),
		Class:          class,
		RawMessage:     rawMessage,
		UpstreamReason: upstreamReason,
		Context:        context,
	}
}
