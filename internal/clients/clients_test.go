package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	"github.com/vaidashi/courier-lifecycle/pkg/retry"
)

func fastRetries(c *retry.RetryConfig) {
	c.BackoffStrategy = &retry.ConstantBackoff{Interval: time.Millisecond}
}

func TestCarrierClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tracking/AWB123/latest", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(TrackingEvent{AWB: "AWB123", Code: CarrierCodePickedUp})
	}))
	defer srv.Close()

	c := NewCarrierClient(srv.URL, "key", time.Second, logger.NewNop())
	fastRetries(c.retryConfig)

	event, err := c.LatestEvent(context.Background(), "AWB123")
	require.NoError(t, err)
	assert.Equal(t, CarrierCodePickedUp, event.Code)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCarrierClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewCarrierClient(srv.URL, "", time.Second, logger.NewNop())
	fastRetries(c.retryConfig)

	_, err := c.LatestEvent(context.Background(), "AWB123")
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCarrierClientOpensBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCarrierClient(srv.URL, "", time.Second, logger.NewNop())
	c.retryConfig.MaxAttempts = 1

	for i := 0; i < 5; i++ {
		_, err := c.LatestEvent(context.Background(), "AWB123")
		assert.ErrorIs(t, err, apperrors.ErrUpstream)
	}
	assert.Equal(t, "open", c.BreakerState().String())

	_, err := c.LatestEvent(context.Background(), "AWB123")
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestCarrierClientNoScanYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewCarrierClient(srv.URL, "", time.Second, logger.NewNop())
	_, err := c.LatestEvent(context.Background(), "AWB123")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "closed", c.BreakerState().String())
}

func TestMapCarrierCode(t *testing.T) {
	status, ok := MapCarrierCode(CarrierCodeDeliveredToHub)
	assert.True(t, ok)
	assert.Equal(t, models.StatusAtWarehouse, status)

	_, ok = MapCarrierCode("EXCEPTION")
	assert.False(t, ok)
}

func TestPaymentClientVerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/pay_1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":"pay_1","amount":"2500.00","method":"upi","status":"captured"}`))
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, "key", time.Second, logger.NewNop())

	conf, err := c.VerifyPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.True(t, conf.Captured)
	assert.True(t, conf.Amount.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, "upi", conf.Method)

	_, err = c.VerifyPayment(context.Background(), "pay_missing")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	return &sqs.SendMessageOutput{}, args.Error(0)
}

func TestSQSNotifierSendsJSON(t *testing.T) {
	client := new(mockSQS)
	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		var n Notification
		if err := json.Unmarshal([]byte(*in.MessageBody), &n); err != nil {
			return false
		}
		return *in.QueueUrl == "https://sqs.local/q" && n.ShipmentID == "shp-1" &&
			*in.MessageAttributes["status"].StringValue == "delivered"
	})).Return(nil)

	n := NewSQSNotifier(client, "https://sqs.local/q", logger.NewNop())
	err := n.Notify(context.Background(), Notification{ShipmentID: "shp-1", NewStatus: models.StatusDelivered})

	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestLocalStorage(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStorage(dir, "http://files.local/")

	doc, err := s.Upload(context.Background(), "documents", "prescriptions/shp-1.pdf", []byte("rx"))
	require.NoError(t, err)
	assert.Equal(t, "prescriptions/shp-1.pdf", doc.Path)
	assert.Equal(t, "http://files.local/documents/prescriptions/shp-1.pdf", doc.URL)

	data, err := os.ReadFile(filepath.Join(dir, "documents", "prescriptions", "shp-1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "rx", string(data))

	doc, err = s.Upload(context.Background(), "documents", "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", doc.Path)
	_, err = os.Stat(filepath.Join(dir, "documents", "etc", "passwd"))
	assert.NoError(t, err)

	_, err = s.Upload(context.Background(), "documents", "", []byte("x"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = s.Upload(context.Background(), "../other", "a.pdf", []byte("x"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func TestS3StorageUploadsObject(t *testing.T) {
	var body []byte
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "rx-docs" &&
			*in.Key == "prescriptions/shp-1/rx.pdf" &&
			*in.ContentLength == int64(len("%PDF-1.4"))
	})).Run(func(args mock.Arguments) {
		body, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(nil).Once()

	s := NewS3Storage(client, "ap-south-1", "", logger.NewNop())
	doc, err := s.Upload(context.Background(), "rx-docs", "prescriptions/shp-1/rx.pdf", []byte("%PDF-1.4"))

	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, "prescriptions/shp-1/rx.pdf", doc.Path)
	assert.Equal(t, "https://rx-docs.s3.ap-south-1.amazonaws.com/prescriptions/shp-1/rx.pdf", doc.URL)
	client.AssertExpectations(t)
}

func TestS3StorageFailureIsUpstream(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.Anything).Return(errors.New("AccessDenied"))

	s := NewS3Storage(client, "ap-south-1", "https://cdn.example.com/", logger.NewNop())
	_, err := s.Upload(context.Background(), "rx-docs", "a.pdf", []byte("x"))

	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.NotContains(t, err.Error(), "AccessDenied")
}

func TestS3StoragePublicURL(t *testing.T) {
	client := new(mockS3)
	client.On("PutObject", mock.Anything, mock.Anything).Return(nil)

	s := NewS3Storage(client, "ap-south-1", "https://cdn.example.com/", logger.NewNop())
	doc, err := s.Upload(context.Background(), "rx-docs", "a.pdf", []byte("x"))

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/rx-docs/a.pdf", doc.URL)
}

func TestStaticCompliance(t *testing.T) {
	c := NewStaticCompliance(nil)

	rule, err := c.Rules(context.Background(), "ae")
	require.NoError(t, err)
	assert.False(t, rule.Allows(models.ShipmentTypeMedicine))
	assert.True(t, rule.Allows(models.ShipmentTypeGift))

	_, err = c.Rules(context.Background(), "ZZ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
