// Package metrics exposes settlement counters for Prometheus. A nil *Recorder
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kasirinaja/settlement/internal/domain"
)

const namespace = "kasirinaja"

type Recorder struct {
	registry       *prometheus.Registry
	salesFinalized prometheus.Counter
	tenderedCents  *prometheus.CounterVec
	shiftVariance  prometheus.Histogram
	shiftsClosed   *prometheus.CounterVec
	authzDenied    *prometheus.CounterVec
	refundCents    *prometheus.CounterVec
	heldSaleEvents *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		salesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_finalized_total",
			Help:      "Sales committed with an invoice number.",
		}),
		tenderedCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tendered_cents_total",
			Help:      "Amount tendered on finalized sales, by method.",
		}, []string{"method"}),
		shiftVariance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shift_variance_cents",
			Help:      "Counted minus expected cash at shift close.",
			Buckets:   []float64{-10000, -1000, -100, -1, 0, 1, 100, 1000, 10000},
		}),
		shiftsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shifts_closed_total",
			Help:      "Closed shifts by whether the drawer balanced.",
		}, []string{"balanced"}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denied_total",
			Help:      "Supervisor approvals denied, by action.",
		}, []string{"action"}),
		refundCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_cents_total",
			Help:      "Refunded amount on processed returns, by refund method.",
		}, []string{"method"}),
		heldSaleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "held_sale_events_total",
			Help:      "Held sale hold, recall and discard events.",
		}, []string{"event"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.salesFinalized,
		r.tenderedCents,
		r.shiftVariance,
		r.shiftsClosed,
		r.authzDenied,
		r.refundCents,
		r.heldSaleEvents,
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) SaleFinalized(tenders []domain.TenderEntry) {
	if r == nil {
		return
	}
	r.salesFinalized.Inc()
	for _, tender := range tenders {
		r.tenderedCents.WithLabelValues(tender.Method).Add(float64(tender.AmountCents))
	}
}

func (r *Recorder) ShiftClosed(varianceCents int64) {
	if r == nil {
		return
	}
	r.shiftVariance.Observe(float64(varianceCents))
	balanced := "true"
	if varianceCents != 0 {
		balanced = "false"
	}
	r.shiftsClosed.WithLabelValues(balanced).Inc()
}

func (r *Recorder) AuthorizationDenied(action string) {
	if r == nil {
		return
	}
	r.authzDenied.WithLabelValues(action).Inc()
}

func (r *Recorder) ReturnProcessed(method string, refundCents int64) {
	if r == nil {
		return
	}
	r.refundCents.WithLabelValues(method).Add(float64(refundCents))
}

func (r *Recorder) HeldSaleEvent(event string) {
	if r == nil {
		return
	}
	r.heldSaleEvents.WithLabelValues(event).Inc()
}
