// Package ekonsulat provides a typed client for the e-konsulat booking API.
package ekonsulat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/egorovli/appointment-monitor/internal/models"
)

// Language version used by the consular web app; baked into the countries
// path and the reservation body.
const languageVersion = 2

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Client communicates with the e-konsulat API. It is stateless and safe for
// concurrent use.
type Client struct {
	baseURL    string
	webOrigin  string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds configuration for the client.
type ClientConfig struct {
	BaseURL   string
	WebOrigin string
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewClient creates a new e-konsulat API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		webOrigin: strings.TrimRight(cfg.WebOrigin, "/"),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "ekonsulat"),
	}
}

// Captcha is a freshly issued CAPTCHA challenge.
type Captcha struct {
	ImageToken string
	Image      []byte
	Length     int
}

// VerifiedToken is the result of a successful CAPTCHA verification.
type VerifiedToken struct {
	OK    bool
	Token string
}

type generujRequest struct {
	ImageWidth  int `json:"imageWidth"`
	ImageHeight int `json:"imageHeight"`
}

type generujResponse struct {
	ID          string `json:"id"`
	IloscZnakow int    `json:"iloscZnakow"`
	Image       string `json:"image"`
}

type sprawdzRequest struct {
	Kod   string `json:"kod"`
	Token string `json:"token"`
}

type sprawdzResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
}

type placowkaDTO struct {
	ID    json.Number `json:"id"`
	Nazwa string      `json:"nazwa"`
}

type krajDTO struct {
	ID       json.Number   `json:"id"`
	Nazwa    string        `json:"nazwa"`
	Placowki []placowkaDTO `json:"placowki"`
}

type terminyRequest struct {
	CaptchaToken string `json:"captchaToken"`
}

type terminyResponse struct {
	TabelaDni    []string    `json:"tabelaDni"`
	Token        string      `json:"token"`
	IDPlacowki   json.Number `json:"idPlacowki"`
	RodzajUslugi json.Number `json:"rodzajUslugi"`
}

type biletDTO struct {
	ID      string `json:"id"`
	Data    string `json:"data"`
	Godzina string `json:"godzina"`
}

type rezerwacjaRequest struct {
	Data              string `json:"data"`
	IDLokalizacji     string `json:"id_lokalizacji"`
	IDWersjiJezykowej int    `json:"id_wersji_jezykowej"`
	Token             string `json:"token"`
	LiczbaOsob        int    `json:"liczba_osob"`
	TylkoDzieci       bool   `json:"tylko_dzieci"`
}

type rezerwacjaResponse struct {
	Bilet         *biletDTO  `json:"bilet"`
	ListaBiletow  []biletDTO `json:"listaBiletow"`
	WniosekDzieci bool       `json:"wniosekDzieci"`
}

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// GenerateCaptcha requests a fresh CAPTCHA image. The returned image bytes
// are already base64-decoded.
func (c *Client) GenerateCaptcha(ctx context.Context, width, height int) (*Captcha, error) {
	var resp generujResponse
	err := c.do(ctx, EndpointCaptchaGenerate, http.MethodPost, "/api/u-captcha/generuj",
		generujRequest{ImageWidth: width, ImageHeight: height}, &resp)
	if err != nil {
		return nil, err
	}

	raw := resp.Image
	// The image arrives either bare or as a data URI.
	if i := strings.Index(raw, "base64,"); i >= 0 {
		raw = raw[i+len("base64,"):]
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &APIError{Endpoint: EndpointCaptchaGenerate, Err: fmt.Errorf("decode image: %w", err)}
	}

	return &Captcha{
		ImageToken: resp.ID,
		Image:      img,
		Length:     resp.IloscZnakow,
	}, nil
}

// VerifyCaptcha posts a solved code back to the upstream. OK=false means the
// code was rejected; the caller decides what that means.
func (c *Client) VerifyCaptcha(ctx context.Context, code, imageToken string) (*VerifiedToken, error) {
	var resp sprawdzResponse
	err := c.do(ctx, EndpointCaptchaVerify, http.MethodPost, "/api/u-captcha/sprawdz",
		sprawdzRequest{Kod: code, Token: imageToken}, &resp)
	if err != nil {
		return nil, err
	}
	return &VerifiedToken{OK: resp.OK, Token: resp.Token}, nil
}

// Countries lists countries and their consulates for the current language
// version.
func (c *Client) Countries(ctx context.Context) ([]models.Country, error) {
	var resp []krajDTO
	path := fmt.Sprintf("/api/konfiguracja/placowki/placowki-w-krajach/%d", languageVersion)
	if err := c.do(ctx, EndpointCountries, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	countries := make([]models.Country, 0, len(resp))
	for _, k := range resp {
		country := models.Country{
			ID:         k.ID.String(),
			Name:       k.Nazwa,
			Consulates: make([]models.Consulate, 0, len(k.Placowki)),
		}
		for _, p := range k.Placowki {
			country.Consulates = append(country.Consulates, models.Consulate{
				ID:   p.ID.String(),
				Name: p.Nazwa,
			})
		}
		countries = append(countries, country)
	}
	return countries, nil
}

// CheckSlots polls the slot-search endpoint with a verified CAPTCHA token.
func (c *Client) CheckSlots(ctx context.Context, locationID string, partySize int, verifiedToken string) (*models.CheckSlotsResult, error) {
	if locationID == "" {
		return nil, &APIError{Endpoint: EndpointCheckSlots, Err: fmt.Errorf("location id is empty")}
	}
	if partySize <= 0 {
		return nil, &APIError{Endpoint: EndpointCheckSlots, Err: fmt.Errorf("party size must be positive, got %d", partySize)}
	}
	if verifiedToken == "" {
		return nil, &APIError{Endpoint: EndpointCheckSlots, Err: fmt.Errorf("verified token is empty")}
	}

	var resp terminyResponse
	path := fmt.Sprintf("/api/rezerwacja-wizyt-wizowych/terminy/%s/%d", locationID, partySize)
	if err := c.do(ctx, EndpointCheckSlots, http.MethodPost, path, terminyRequest{CaptchaToken: verifiedToken}, &resp); err != nil {
		return nil, err
	}

	slots := make([]models.Slot, 0, len(resp.TabelaDni))
	for _, d := range resp.TabelaDni {
		slots = append(slots, models.Slot{Date: d})
	}

	return &models.CheckSlotsResult{
		Slots:       slots,
		Token:       resp.Token,
		ConsulateID: resp.IDPlacowki.String(),
		ServiceType: resp.RodzajUslugi.String(),
		LocationID:  locationID,
	}, nil
}

// CreateReservation races for the given date. An HTTP 200 with a null ticket
// means the slot was taken and surfaces as ErrSlotUnavailable.
func (c *Client) CreateReservation(ctx context.Context, date, locationID, verifiedToken string, partySize int, onlyChildren bool) (*models.ReservationResult, error) {
	if !dateRe.MatchString(date) {
		return nil, &APIError{Endpoint: EndpointReservation, Err: fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)}
	}
	if locationID == "" {
		return nil, &APIError{Endpoint: EndpointReservation, Err: fmt.Errorf("location id is empty")}
	}
	if verifiedToken == "" {
		return nil, &APIError{Endpoint: EndpointReservation, Err: fmt.Errorf("verified token is empty")}
	}
	if partySize <= 0 {
		return nil, &APIError{Endpoint: EndpointReservation, Err: fmt.Errorf("party size must be positive, got %d", partySize)}
	}

	var resp rezerwacjaResponse
	err := c.do(ctx, EndpointReservation, http.MethodPost, "/api/rezerwacja-wizyt-wizowych/rezerwacje",
		rezerwacjaRequest{
			Data:              date,
			IDLokalizacji:     locationID,
			IDWersjiJezykowej: languageVersion,
			Token:             verifiedToken,
			LiczbaOsob:        partySize,
			TylkoDzieci:       onlyChildren,
		}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Bilet == nil || resp.Bilet.ID == "" {
		return nil, fmt.Errorf("%s: %w", EndpointReservation, ErrSlotUnavailable)
	}

	result := &models.ReservationResult{
		PrimaryTicket:      ticketFromDTO(*resp.Bilet, resp.WniosekDzieci),
		IsChildApplication: resp.WniosekDzieci,
	}
	for _, b := range resp.ListaBiletow {
		result.Tickets = append(result.Tickets, ticketFromDTO(b, resp.WniosekDzieci))
	}
	if len(result.Tickets) == 0 {
		result.Tickets = []models.ReservationTicket{result.PrimaryTicket}
	}
	return result, nil
}

func ticketFromDTO(b biletDTO, child bool) models.ReservationTicket {
	return models.ReservationTicket{
		TicketID:           b.ID,
		Date:               b.Data,
		Time:               b.Godzina,
		IsChildApplication: child,
	}
}

// do executes one request against the upstream and decodes the 2xx body into
// out. Non-2xx responses are returned as *APIError with the upstream reason
// when the body carries one.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body, out any) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &APIError{Endpoint: endpoint, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}

	// The upstream rejects calls that do not look like they came from the
	// consular web app.
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", c.webOrigin)
	req.Header.Set("Referer", c.webOrigin+"/")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			"endpoint", endpoint,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return &APIError{Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	durationMs := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    strings.TrimSpace(string(respBody)),
		}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil {
			apiErr.Reason = eb.Reason
			if eb.Message != "" {
				apiErr.Message = eb.Message
			}
		}
		c.logger.Debug("upstream error",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"reason", apiErr.Reason,
			"duration_ms", durationMs,
		)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
		}
	}

	c.logger.Debug("request ok",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration_ms", durationMs,
	)
	return nil
}
