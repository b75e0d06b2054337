package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_CountersIncrementAndScrape(t *testing.T) {
	m := New()
	m.IncOrderCreated("ETHBTC", "buy")
	m.IncOrderRejected("insufficient_funds")
	m.IncOrderFilled()
	m.IncOrderCanceled("ws_succeeded")
	m.ObserveOrderAckLatency(25 * time.Millisecond)
	m.SetEventBusLag(2)
	m.SetReservationsActive(3)
	m.IncBalanceForcedRefresh()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`engine_orders_created_total{side="buy",symbol="ETHBTC"} 1`,
		`engine_orders_rejected_total{reason="insufficient_funds"} 1`,
		"engine_orders_filled_total 1",
		`engine_orders_canceled_total{outcome="ws_succeeded"} 1`,
		"engine_event_bus_lagged_subscribers 2",
		"engine_reservations_active 3",
		"engine_balance_forced_refreshes_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected scrape output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestMetrics_NewIsCollisionFreePerInstance(t *testing.T) {
	// A fresh registry per New() call means constructing two instances in the
	// same test (e.g. parallel subtests) must never panic on duplicate
	// collector registration.
	m1 := New()
	m2 := New()
	m1.IncOrderFilled()
	m2.IncOrderFilled()
}
