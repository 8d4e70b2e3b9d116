package ekonsulat

import (
	"errors"
	"fmt"
)

// Upstream reason codes returned in error bodies.
const (
	ReasonIPLimitExceeded = "LIMIT_Z_JEDNEGO_IP_PRZEKROCZONY"
	ReasonNoFreeSlots     = "BRAK_WOLNYCH_TERMINOW"
	ReasonInvalidToken    = "NIEPRAWIDLOWY_TOKEN"
	ReasonSlotTaken       = "TERMIN_ZAJETY"
)

// Endpoint names carried on APIError for classification.
const (
	EndpointCaptchaGenerate = "captcha-generate"
	EndpointCaptchaVerify   = "captcha-verify"
	EndpointCountries       = "countries"
	EndpointCheckSlots      = "check-slots"
	EndpointReservation     = "create-reservation"
)

// ErrSlotUnavailable signals an HTTP 200 reservation response that carried no
// ticket: the slot was taken between search and reservation.
var ErrSlotUnavailable = errors.New("slot unavailable: reservation returned no ticket")

// APIError is a structured upstream failure. Reason carries the upstream
// reason code when the error body included one.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Endpoint   string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Reason)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Err.Error())
	default:
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}
