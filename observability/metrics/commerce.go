package metrics

import (
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CommerceMetrics tracks purchase settlement, commission routing and
// governance execution across all stores.
type CommerceMetrics struct {
	purchases   *prometheus.CounterVec
	volume      *prometheus.CounterVec
	commissions *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	remainder   *prometheus.CounterVec
	executions  *prometheus.CounterVec
}

var (
	commerceOnce     sync.Once
	commerceRegistry *CommerceMetrics
)

func Commerce() *CommerceMetrics {
	commerceOnce.Do(func() {
		commerceRegistry = &CommerceMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storechain_store_purchases_total",
				Help: "Count of settled purchases by product type.",
			}, []string{"type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storechain_store_purchase_volume",
				Help: "Sum of settled product prices by store.",
			}, []string{"store"}),
			commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storechain_store_commissions_paid",
				Help: "Referral commissions credited along the real referrer chain.",
			}, []string{"store"}),
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storechain_store_fallbacks_total",
				Help: "Pushes redirected to the treasury after the recipient rejected them.",
			}, []string{"kind"}),
			remainder: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storechain_store_unpaid_schedule",
				Help: "Difference between the full-schedule commission total and what the chain actually earned.",
			}, []string{"store"}),
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storechain_multisig_executions_total",
				Help: "Governance transaction executions by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			commerceRegistry.purchases,
			commerceRegistry.volume,
			commerceRegistry.commissions,
			commerceRegistry.fallbacks,
			commerceRegistry.remainder,
			commerceRegistry.executions,
		)
	})
	return commerceRegistry
}

// ObservePurchase records a settled purchase.
func (m *CommerceMetrics) ObservePurchase(store, productType string, price, paidCommission, scheduleTotal *big.Int) {
	if m == nil {
		return
	}
	productType = strings.ToLower(strings.TrimSpace(productType))
	if productType == "" {
		productType = "unknown"
	}
	m.purchases.WithLabelValues(productType).Inc()
	m.volume.WithLabelValues(store).Add(bigToFloat(price))
	m.commissions.WithLabelValues(store).Add(bigToFloat(paidCommission))
	if scheduleTotal != nil && paidCommission != nil && scheduleTotal.Cmp(paidCommission) > 0 {
		m.remainder.WithLabelValues(store).Add(bigToFloat(new(big.Int).Sub(scheduleTotal, paidCommission)))
	}
}

// IncFallback counts a push that was redirected to the treasury. kind is
// "referral" or "platform".
func (m *CommerceMetrics) IncFallback(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.fallbacks.WithLabelValues(kind).Add(float64(n))
}

// ObserveExecution records a governance execution attempt.
func (m *CommerceMetrics) ObserveExecution(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.executions.WithLabelValues(outcome).Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() <= 0 {
		return 0
	}
	floatVal, _ := new(big.Float).SetInt(value).Float64()
	if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
		return 0
	}
	return floatVal
}
