package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveIngest("push", "appended")
	m.ObserveSend()
	m.ObserveSendFailure()
	m.ObservePoll(errors.New("x"))
	m.SetSubscriptions(3)
	m.ObserveSubscriptionFailure("messages")
	m.ObserveReadReceiptFailure()
	m.ObserveBusDrop()
	m.RecordGrpcRequest("/x", "ok", time.Millisecond)
}

func TestCountersRegisterOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveIngest("poll", "reconciled")
	m.ObserveIngest("poll", "reconciled")
	m.ObservePoll(nil)
	m.ObservePoll(errors.New("boom"))
	m.SetSubscriptions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesIngested.WithLabelValues("poll", "reconciled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollTicks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubscriptionsActive))

	// A second set on a fresh registry must not collide.
	New(prometheus.NewRegistry())
}
