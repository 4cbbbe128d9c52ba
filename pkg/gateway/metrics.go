// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stacklok/gqlgate/pkg/auth/oidc"
	"github.com/stacklok/gqlgate/pkg/users"
)

// Redirect reasons, used as metric labels.
const (
	ReasonNeedsLogin     = "needs_login"
	ReasonNoToken        = "no_token"
	ReasonInvalid        = "invalid"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonCallbackFailed = "callback_failed"
	ReasonUserInfoFailed = "userinfo_failed"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics holds the gateway's Prometheus collectors. It also observes
// provider calls and user reconciliations.
type Metrics struct {
	Classifications     *prometheus.CounterVec
	Redirects           *prometheus.CounterVec
	ProviderDuration    *prometheus.HistogramVec
	UserReconciliations *prometheus.CounterVec
}

var (
	_ oidc.CallObserver    = (*Metrics)(nil)
	_ users.ResultObserver = (*Metrics)(nil)
)

// NewMetrics creates the gateway metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlgate_auth_classifications_total",
			Help: "Requests classified by authentication state",
		}, []string{"state"}),
		Redirects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlgate_auth_redirects_total",
			Help: "Requests sent back to login, by reason",
		}, []string{"reason"}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gqlgate_provider_request_duration_seconds",
			Help:    "Duration of calls to the identity provider",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
		UserReconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gqlgate_user_reconciliations_total",
			Help: "User reconciliations after login, by result",
		}, []string{"result"}),
	}
}

// ObserveClassification counts a classified request.
func (m *Metrics) ObserveClassification(state State) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(state.String()).Inc()
}

// ObserveRedirect counts a request sent back to login.
func (m *Metrics) ObserveRedirect(reason string) {
	if m == nil {
		return
	}
	m.Redirects.WithLabelValues(reason).Inc()
}

// ObserveProviderCall records the duration and outcome of a provider call.
func (m *Metrics) ObserveProviderCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	m.ProviderDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// ObserveReconciliation counts a reconciliation result.
func (m *Metrics) ObserveReconciliation(result string) {
	if m == nil {
		return
	}
	m.UserReconciliations.WithLabelValues(result).Inc()
}
