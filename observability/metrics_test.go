package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"isolend/core/events"
)

func TestLendingMetricsObserve(t *testing.T) {
	m := Lending()
	before := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "error"))
	m.Observe("borrow", time.Millisecond, errors.New("boom"))
	after := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "error"))
	if after-before != 1 {
		t.Fatalf("expected error counter to increase by 1, got %v", after-before)
	}

	seizedBefore := testutil.ToFloat64(m.seized.WithLabelValues("asset1test"))
	m.RecordLiquidation("asset1test", new(big.Int).Mul(big.NewInt(3), big.NewInt(1_000_000_000_000_000_000)), 500, true)
	if got := testutil.ToFloat64(m.seized.WithLabelValues("asset1test")) - seizedBefore; got != 3 {
		t.Fatalf("expected 3 units seized, got %v", got)
	}
}

func TestHTTPMetricsStatusBuckets(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.requests.WithLabelValues("/v1/borrow", "4xx"))
	m.Observe("/v1/borrow", 422, time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/v1/borrow", "4xx")) - before; got != 1 {
		t.Fatalf("expected 4xx counter increment, got %v", got)
	}
	if statusLabel(200) != "2xx" || statusLabel(503) != "5xx" {
		t.Fatalf("unexpected status labels")
	}
}

func TestEventRecorderCountsAuctions(t *testing.T) {
	emitted := Events().emitted.WithLabelValues(events.TypeLendingAuctionOpened)
	before := testutil.ToFloat64(emitted)
	auctionsBefore := testutil.ToFloat64(Lending().auctionsNew)

	EventRecorder{}.Emit(events.LendingAuctionOpened{PositionKey: "0x01"})
	EventRecorder{}.Emit(nil)

	if got := testutil.ToFloat64(emitted) - before; got != 1 {
		t.Fatalf("expected one auction event counted, got %v", got)
	}
	if got := testutil.ToFloat64(Lending().auctionsNew) - auctionsBefore; got != 1 {
		t.Fatalf("expected auction counter increment, got %v", got)
	}
}
