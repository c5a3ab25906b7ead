package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConnectionStateIsOneHot(t *testing.T) {
	c := NewCollector("test")
	if got := testutil.ToFloat64(c.connectionState.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("initial disconnected = %v, want 1", got)
	}

	c.SetConnectionState("connected")
	for _, s := range connectionStates {
		want := 0.0
		if s == "connected" {
			want = 1
		}
		if got := testutil.ToFloat64(c.connectionState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestCounters(t *testing.T) {
	c := NewCollector("test")
	c.RecordReconnectScheduled()
	c.RecordReconnectScheduled()
	c.RecordMessageReceived("/topic/user/1/orders")
	c.RecordMessageDropped("/topic/user/1/orders")
	c.RecordNotification("poll", "info")

	if got := testutil.ToFloat64(c.reconnects); got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.notifications.WithLabelValues("poll", "info")); got != 1 {
		t.Errorf("notifications = %v, want 1", got)
	}
}

func TestRecordFetch(t *testing.T) {
	c := NewCollector("test")
	c.RecordFetch("consumer", 5)
	c.RecordFetchFailed("consumer")

	if got := testutil.ToFloat64(c.snapshotSize.WithLabelValues("consumer")); got != 5 {
		t.Errorf("snapshot = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.fetches.WithLabelValues("consumer", FetchError)); got != 1 {
		t.Errorf("failed fetches = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector("")
	c.RecordMessageReceived("/topic/merchant/3/orders")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "orderwatch_push_messages_received_total") {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
