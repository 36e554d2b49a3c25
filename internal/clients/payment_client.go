package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	"github.com/vaidashi/courier-lifecycle/pkg/retry"
)

// paymentResponse is the gateway's payment lookup body
type paymentResponse struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Status string          `json:"status"`
}

// PaymentClient verifies payments with the payment gateway
type PaymentClient struct {
	http        jsonClient
	logger      logger.Logger
	retryConfig *retry.RetryConfig
}

// NewPaymentClient creates a new PaymentClient
func NewPaymentClient(baseURL, apiKey string, timeout time.Duration, logger logger.Logger) *PaymentClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &PaymentClient{
		http: jsonClient{
			name:       "payment gateway",
			baseURL:    baseURL,
			apiKey:     apiKey,
			httpClient: &http.Client{Timeout: timeout},
		},
		logger: logger,
		retryConfig: &retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: retry.NewDefaultExponentialBackoff(),
			Logger:          logger,
			ShouldRetry:     apperrors.IsRetryable,
		},
	}
}

// VerifyPayment looks up a payment by its gateway reference
func (c *PaymentClient) VerifyPayment(ctx context.Context, paymentRef string) (*models.PaymentConfirmation, error) {
	path := fmt.Sprintf("/v1/payments/%s", url.PathEscape(paymentRef))

	var resp paymentResponse

	err := retry.Retry(ctx, func(ctx context.Context) error {
		return c.http.do(ctx, http.MethodGet, path, nil, &resp)
	}, c.retryConfig)

	if err != nil {
		if appErr := apperrors.From(err); appErr.Code == apperrors.CodeNotFound {
			return nil, apperrors.NewValidationError("payment not found")
		}
		return nil, err
	}

	return &models.PaymentConfirmation{
		PaymentRef: resp.ID,
		Amount:     resp.Amount,
		Method:     resp.Method,
		Captured:   strings.EqualFold(resp.Status, "captured"),
	}, nil
}
