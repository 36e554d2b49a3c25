package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	"github.com/vaidashi/courier-lifecycle/pkg/retry"
)

// Carrier tracking codes reported by the domestic carrier
const (
	CarrierCodeOutForPickup   = "OUT_FOR_PICKUP"
	CarrierCodePickedUp       = "PICKED_UP"
	CarrierCodeInTransitToHub = "IN_TRANSIT_TO_HUB"
	CarrierCodeDeliveredToHub = "DELIVERED_TO_HUB"
)

var carrierStatusMap = map[string]models.ShipmentStatus{
	CarrierCodeOutForPickup:   models.StatusOutForPickup,
	CarrierCodePickedUp:       models.StatusPickedUp,
	CarrierCodeInTransitToHub: models.StatusPickedUp,
	CarrierCodeDeliveredToHub: models.StatusAtWarehouse,
}

// MapCarrierCode translates a carrier tracking code into an internal status
func MapCarrierCode(code string) (models.ShipmentStatus, bool) {
	status, ok := carrierStatusMap[code]
	return status, ok
}

// TrackingEvent is the latest scan reported for an AWB
type TrackingEvent struct {
	AWB         string    `json:"awb"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// CarrierClient is a client for the domestic carrier's tracking API
type CarrierClient struct {
	http        jsonClient
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewCarrierClient creates a new CarrierClient instance
func NewCarrierClient(baseURL, apiKey string, timeout time.Duration, logger logger.Logger) *CarrierClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retryConfig := &retry.RetryConfig{
		MaxAttempts:     3,
		BackoffStrategy: retry.NewDefaultExponentialBackoff(),
		Logger:          logger,
		ShouldRetry:     apperrors.IsRetryable,
	}

	return &CarrierClient{
		http: jsonClient{
			name:       "carrier",
			baseURL:    baseURL,
			apiKey:     apiKey,
			httpClient: &http.Client{Timeout: timeout},
		},
		logger:      logger,
		retryConfig: retryConfig,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		}),
	}
}

// LatestEvent fetches the most recent tracking event for awb
func (c *CarrierClient) LatestEvent(ctx context.Context, awb string) (*TrackingEvent, error) {
	path := fmt.Sprintf("/v1/tracking/%s/latest", url.PathEscape(awb))

	var event TrackingEvent

	retryFunc := func(ctx context.Context) error {
		return c.http.do(ctx, http.MethodGet, path, nil, &event)
	}

	err := c.breaker.Execute(func() error {
		err := retry.Retry(ctx, retryFunc, c.retryConfig)
		// A carrier that has no scan yet is healthy
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, apperrors.NewUpstreamError("carrier tracking temporarily unavailable")
	}

	if err != nil {
		c.logger.Error("Failed to fetch tracking event after retries", "error", err, "awb", awb)
		return nil, err
	}

	if event.Code == "" {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no tracking event for %s", awb))
	}

	return &event, nil
}

// BreakerState exposes the circuit state for health reporting
func (c *CarrierClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}
