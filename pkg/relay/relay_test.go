package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/types"
)

func testMessage() types.BridgeMessage {
	return types.BridgeMessage{
		SourceChain:  "solana",
		TargetChain:  "ethereum",
		SourceTx:     "5Kx9",
		Sender:       "+15551234567",
		Recipient:    "+15551234567",
		SourceToken:  "SOL",
		TargetToken:  "ETH",
		SourceAmount: decimal.RequireFromString("1"),
		TargetAmount: decimal.RequireFromString("0.02"),
		ExchangeRate: decimal.RequireFromString("0.02"),
	}
}

func TestHTTPRelaySend(t *testing.T) {
	var received Envelope
	var idempotencyKey, auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		idempotencyKey = r.Header.Get("Idempotency-Key")
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": received.MessageID, "status": "accepted"})
	}))
	defer server.Close()

	relay, err := NewHTTPRelay(nil, []string{server.URL}, "secret")
	require.NoError(t, err)

	id, err := relay.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, received.MessageID)
	assert.Equal(t, id, idempotencyKey)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "5Kx9", received.Message.SourceTx)
	assert.True(t, received.Message.TargetAmount.Equal(decimal.RequireFromString("0.02")))
}

func TestHTTPRelayFailover(t *testing.T) {
	var firstCalls, secondCalls atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}))
	defer second.Close()

	relay, err := NewHTTPRelay(nil, []string{first.URL, second.URL}, "")
	require.NoError(t, err)

	id, err := relay.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int32(1), firstCalls.Load())
	assert.Equal(t, int32(1), secondCalls.Load())
}

func TestHTTPRelayClientErrorStops(t *testing.T) {
	var secondCalls atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad message","reason":"amount below minimum"}`))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalls.Add(1)
	}))
	defer second.Close()

	relay, err := NewHTTPRelay(nil, []string{first.URL, second.URL}, "")
	require.NoError(t, err)

	_, err = relay.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, chains.ErrBridgeMessage)
	assert.Contains(t, err.Error(), "amount below minimum")
	assert.Equal(t, int32(0), secondCalls.Load())

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestHTTPRelayAllFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	relay, err := NewHTTPRelay(nil, []string{server.URL, server.URL}, "")
	require.NoError(t, err)

	_, err = relay.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, chains.ErrBridgeMessage)
	assert.Contains(t, err.Error(), "all relays failed")
}

func TestNewHTTPRelayValidation(t *testing.T) {
	_, err := NewHTTPRelay(nil, nil, "")
	assert.Error(t, err)

	_, err = NewHTTPRelay(nil, []string{"http://relay.example.com"}, "")
	assert.Error(t, err)
}

func TestShouldRetryWithNextRelay(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "server error", err: &HTTPError{StatusCode: 500}, expected: true},
		{name: "unauthorized", err: &HTTPError{StatusCode: 401}, expected: true},
		{name: "bad request", err: &HTTPError{StatusCode: 400}, expected: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "timeout", err: errors.New("i/o timeout"), expected: true},
		{name: "decode", err: errors.New("failed to decode response: EOF"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shouldRetryWithNextRelay(tt.err))
		})
	}
}

type fakeProducer struct {
	produced []*kafka.Message
	fail     error
	// deliveryErr is reported through the delivery channel
	deliveryErr error
	closed      bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.fail != nil {
		return f.fail
	}
	f.produced = append(f.produced, msg)
	delivered := *msg
	delivered.TopicPartition.Error = f.deliveryErr
	deliveryChan <- &delivered
	return nil
}

func (f *fakeProducer) Flush(timeoutMs int) int { return 0 }

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaRelaySend(t *testing.T) {
	producer := &fakeProducer{}
	relay := newKafkaRelay(nil, producer, "bridge-messages")

	id, err := relay.Send(context.Background(), testMessage())
	require.NoError(t, err)
	require.Len(t, producer.produced, 1)

	msg := producer.produced[0]
	assert.Equal(t, "bridge-messages", *msg.TopicPartition.Topic)
	assert.Equal(t, id, string(msg.Key))

	var envelope Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, id, envelope.MessageID)
	assert.Equal(t, "ethereum", envelope.Message.TargetChain)

	relay.Close()
	assert.True(t, producer.closed)
}

func TestKafkaRelayFailures(t *testing.T) {
	tests := []struct {
		name     string
		producer *fakeProducer
	}{
		{name: "produce error", producer: &fakeProducer{fail: errors.New("queue full")}},
		{name: "delivery error", producer: &fakeProducer{deliveryErr: errors.New("broker down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newKafkaRelay(nil, tt.producer, "bridge-messages")
			_, err := relay.Send(context.Background(), testMessage())
			assert.ErrorIs(t, err, chains.ErrBridgeMessage)
		})
	}
}
