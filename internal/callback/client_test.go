package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret"

func testPayload() Payload {
	return Payload{
		OperationID: "6f1c2a8e-0000-4000-8000-000000000001",
		ProjectID:   "proj-a",
		Type:        "COOL",
		Status:      "SUCCEEDED",
		FinishedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BytesCopied: 1024,
		FilesCopied: 2,
	}
}

// recordingSleeper captures retry delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(t *testing.T, url string, logs io.Writer) (*Client, *recordingSleeper) {
	t.Helper()
	if logs == nil {
		logs = io.Discard
	}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	c := New(Config{BackendURL: url, JWTSecret: testSecret}, logger)
	s := &recordingSleeper{}
	c.sleep = s.sleep
	return c, s
}

// statusSequence answers with codes in order, repeating the last one.
func statusSequence(codes ...int) (http.HandlerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		code := codes[len(codes)-1]
		if n <= len(codes) {
			code = codes[n-1]
		}
		w.WriteHeader(code)
	}, &calls
}

func TestDelayDoublesPerAttempt(t *testing.T) {
	assert.Equal(t, time.Second, Delay(time.Second, 1))
	assert.Equal(t, 2*time.Second, Delay(time.Second, 2))
	assert.Equal(t, 4*time.Second, Delay(time.Second, 3))
	assert.Equal(t, 8*time.Second, Delay(time.Second, 4))
	assert.Equal(t, time.Second, Delay(time.Second, 0))
}

func TestDeliverSucceedsAfterTransientFailures(t *testing.T) {
	handler, calls := statusSequence(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c, sleeper := newTestClient(t, srv.URL, nil)
	err := c.Deliver(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, sleeper.delays, 2)
	assert.Less(t, sleeper.delays[0], sleeper.delays[1])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestDeliverAbandonsAfterMaxAttempts(t *testing.T) {
	handler, calls := statusSequence(http.StatusServiceUnavailable)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	var logs bytes.Buffer
	c, sleeper := newTestClient(t, srv.URL, &logs)
	p := testPayload()
	err := c.Deliver(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))

	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
	assert.Len(t, sleeper.delays, DefaultMaxAttempts-1)

	out := logs.String()
	assert.Contains(t, out, "callback abandoned after all attempts")
	assert.Contains(t, out, p.OperationID)

	// No background retry happens after Deliver returns.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	handler, calls := statusSequence(http.StatusBadRequest)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c, sleeper := newTestClient(t, srv.URL, nil)
	err := c.Deliver(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeper.delays)
}

func TestDeliverTreatsNon2xxAsRejected(t *testing.T) {
	for _, code := range []int{http.StatusNotModified, http.StatusMultipleChoices} {
		handler, calls := statusSequence(code)
		srv := httptest.NewServer(handler)

		var logs bytes.Buffer
		c, sleeper := newTestClient(t, srv.URL, &logs)
		err := c.Deliver(context.Background(), testPayload())
		srv.Close()

		require.Error(t, err, code)
		assert.True(t, errors.Is(err, ErrRejected), code)
		assert.Equal(t, int32(1), calls.Load(), code)
		assert.Empty(t, sleeper.delays, code)
		assert.NotContains(t, logs.String(), "callback delivered", code)
	}
}

func TestDeliverRetriesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, sleeper := newTestClient(t, url, nil)
	c.config.MaxAttempts = 2
	err := c.Deliver(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Len(t, sleeper.delays, 1)
}

func TestDeliverWithoutBackendURL(t *testing.T) {
	var logs bytes.Buffer
	c, _ := newTestClient(t, "", &logs)
	err := c.Deliver(context.Background(), testPayload())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, logs.String(), "backend url is not configured")
	assert.Empty(t, c.URL())
}

func TestDeliverStopsWhenContextCanceled(t *testing.T) {
	handler, calls := statusSequence(http.StatusBadGateway)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	c.sleep = sleepContext
	c.config.InitialBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := c.Deliver(ctx, testPayload())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliverRequestShape(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotSig    string
		gotBody   []byte
		gotCType  string
		gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSig = r.Header.Get(SignatureHeader)
		gotCType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL+"/", nil)
	c.config.SigningSecret = "body-secret"
	p := testPayload()
	p.Status = "FAILED"
	p.ErrorMessage = "azcopy failed"
	p.ErrorDetails = map[string]any{"job_id": "j-1", "failed_transfers": 3}
	require.NoError(t, c.Deliver(context.Background(), p))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, Path, gotPath)
	assert.Equal(t, "application/json", gotCType)
	assert.Equal(t, signBody(gotBody, "body-secret"), gotSig)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, p.OperationID, decoded["operation_id"])
	assert.Equal(t, "proj-a", decoded["project_id"])
	assert.Equal(t, "COOL", decoded["type"])
	assert.Equal(t, "FAILED", decoded["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["finished_at"])
	assert.Equal(t, float64(1024), decoded["bytes_copied"])
	assert.Equal(t, "azcopy failed", decoded["error_message"])
	assert.Equal(t, float64(3), decoded["error_details"].(map[string]any)["failed_transfers"])

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestDeliverOmitsEmptyErrorFields(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	require.NoError(t, c.Deliver(context.Background(), testPayload()))
	assert.NotContains(t, string(body), "error_message")
	assert.NotContains(t, string(body), "error_details")
}

func TestDeliverRequiresJWTSecret(t *testing.T) {
	handler, calls := statusSequence(http.StatusOK)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	c.config.JWTSecret = ""
	err := c.Deliver(context.Background(), testPayload())
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())
}
