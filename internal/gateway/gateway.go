// Package gateway turns an intent and a customer supplied identifier into a
// call to one of the external logistics or telecom services and renders the
// answer as a sentence for the chat.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/metrics"
	"github.com/eldtechnologies/supportbot/internal/models"
)

var (
	// ErrNotFound means the service gave no usable answer for the identifier.
	ErrNotFound = errors.New("gateway: no result")
	// ErrInvalidRequest means the call was rejected before any network traffic.
	ErrInvalidRequest = errors.New("gateway: url and body are required")
	// ErrUnsupportedIntent is returned by Lookup for intents served elsewhere.
	ErrUnsupportedIntent = errors.New("gateway: intent has no external service")
)

// Config holds the service base URLs and the static credential.
type Config struct {
	LogisticsURL string
	TelecomURL   string
	Token        string
	Timeout      time.Duration
}

type service int

const (
	logistics service = iota
	telecom
)

func (s service) String() string {
	if s == telecom {
		return "telecom"
	}
	return "logistics"
}

type endpoint struct {
	service service
	path    string
	field   string
}

var endpoints = map[models.Intent]endpoint{
	models.IntentTracking:   {service: logistics, path: "tracking", field: "id_sale"},
	models.IntentZipCode:    {service: logistics, path: "zip_code", field: "zip_code"},
	models.IntentChipStatus: {service: telecom, path: "chip_status", field: "chip_id"},
}

// Supports reports whether the intent is answered by an external service.
func Supports(intent models.Intent) bool {
	_, ok := endpoints[intent]
	return ok
}

// Client calls the external lookup services. It never retries.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger zerolog.Logger
}

// New creates a gateway client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetHeader("authorization", cfg.Token).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{
		http:   c,
		cfg:    cfg,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Lookup resolves an identifier for an API-backed intent. The identifier is
// forwarded as-is.
func (c *Client) Lookup(ctx context.Context, intent models.Intent, identifier string) (string, error) {
	ep, ok := endpoints[intent]
	if !ok {
		return "", ErrUnsupportedIntent
	}
	base := c.cfg.LogisticsURL
	if ep.service == telecom {
		base = c.cfg.TelecomURL
	}
	url := strings.TrimRight(base, "/") + "/" + ep.path

	result, err := c.CallAPI(ctx, url, map[string]string{ep.field: identifier}, intent)
	outcome := "found"
	if err != nil {
		outcome = "not_found"
	}
	metrics.LookupRequests.WithLabelValues(ep.service.String(), outcome).Inc()
	return result, err
}

// CallAPI posts body as a form to url and renders the JSON answer with the
// template of intent.
func (c *Client) CallAPI(ctx context.Context, url string, body map[string]string, intent models.Intent) (string, error) {
	if url == "" || len(body) == 0 {
		return "", ErrInvalidRequest
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(body).
		Post(url)
	if err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("lookup request failed")
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest || len(bytes.TrimSpace(resp.Body())) == 0 {
		c.logger.Error().
			Str("url", url).
			Int("status", resp.StatusCode()).
			Str("response", resp.String()).
			Msg("lookup returned no result")
		return "", ErrNotFound
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	var result map[string]any
	if err := dec.Decode(&result); err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("lookup returned malformed json")
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if len(result) == 0 {
		return "", ErrNotFound
	}

	return Render(intent, result)
}

// Render formats a service answer. Tracking and chip status answers have
// fixed sentences; anything else is listed as "Key: value" lines.
func Render(intent models.Intent, result map[string]any) (string, error) {
	switch intent {
	case models.IntentTracking:
		status, ok1 := result["status"]
		forecast, ok2 := result["delivery_forecast"]
		zip, ok3 := result["destination_zip_code"]
		if !ok1 || !ok2 || !ok3 {
			return "", ErrNotFound
		}
		return fmt.Sprintf("The product is %v with a delivery forecast for %v to be delivered to Zip Code %v",
			status, forecast, zip), nil

	case models.IntentChipStatus:
		id, ok1 := result["chip_id"]
		status, ok2 := result["status"]
		description, ok3 := result["description"]
		if !ok1 || !ok2 || !ok3 {
			return "", ErrNotFound
		}
		return fmt.Sprintf("Chip with ID %v is %v.\nMessage is '%v'", id, status, description), nil
	}

	keys := make([]string, 0, len(result))
	for k, v := range result {
		if models.Truthy(v) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", models.Label(k), result[k]))
	}
	return strings.Join(lines, "\n"), nil
}
