package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"kasirinaja/settlement/internal/domain"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.SaleFinalized([]domain.TenderEntry{
		{Method: domain.TenderCash, AmountCents: 1500},
		{Method: domain.TenderCard, AmountCents: 3000},
	})
	r.SaleFinalized([]domain.TenderEntry{{Method: domain.TenderCash, AmountCents: 500}})
	r.ShiftClosed(-50)
	r.ShiftClosed(0)
	r.AuthorizationDenied("shift_close")
	r.ReturnProcessed(domain.TenderCash, 2250)
	r.HeldSaleEvent("hold")

	if got := testutil.ToFloat64(r.salesFinalized); got != 2 {
		t.Fatalf("expected 2 sales, got %v", got)
	}
	if got := testutil.ToFloat64(r.tenderedCents.WithLabelValues(domain.TenderCash)); got != 2000 {
		t.Fatalf("expected 2000 cash tendered, got %v", got)
	}
	if got := testutil.ToFloat64(r.shiftsClosed.WithLabelValues("false")); got != 1 {
		t.Fatalf("expected one unbalanced close, got %v", got)
	}
	if got := testutil.ToFloat64(r.authzDenied.WithLabelValues("shift_close")); got != 1 {
		t.Fatalf("expected one denial, got %v", got)
	}
	if got := testutil.ToFloat64(r.refundCents.WithLabelValues(domain.TenderCash)); got != 2250 {
		t.Fatalf("expected 2250 refunded, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.SaleFinalized([]domain.TenderEntry{{Method: domain.TenderCash, AmountCents: 1}})
	r.ShiftClosed(1)
	r.AuthorizationDenied("x")
	r.ReturnProcessed(domain.TenderCash, 1)
	r.HeldSaleEvent("hold")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil recorder, got %d", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.HeldSaleEvent("recall")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `kasirinaja_held_sale_events_total{event="recall"} 1`) {
		t.Fatalf("expected held sale counter in output")
	}
}
