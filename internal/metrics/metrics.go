// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus counters for the security coordinator.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Developer-Keyithan/the-vault/internal/security"
)

const namespace = "vaultsec"

// Metrics implements security.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal           *prometheus.CounterVec
	LocksTotal            *prometheus.CounterVec
	ComplianceChecksTotal *prometheus.CounterVec
	ClipboardOpsTotal     *prometheus.CounterVec
	Compromised           prometheus.Gauge
}

var _ security.Observer = (*Metrics)(nil)

// New registers the vaultsec collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events appended to the event log, by kind",
		}, []string{"kind"}),
		LocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_locks_total",
			Help:      "Vault lock requests, by reason and result",
		}, []string{"reason", "result"}),
		ComplianceChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_checks_total",
			Help:      "Compliance checks, by outcome (clean, compromised, error)",
		}, []string{"outcome"}),
		ClipboardOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clipboard_operations_total",
			Help:      "Secure clipboard operations, by op and result",
		}, []string{"op", "result"}),
		Compromised: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_compromised",
			Help:      "1 when the last compliance verdict was compromised",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// EventRecorded counts an appended event.
func (m *Metrics) EventRecorded(kind security.EventKind) {
	m.EventsTotal.WithLabelValues(string(kind)).Inc()
}

// VaultLocked counts a lock request.
func (m *Metrics) VaultLocked(reason string, err error) {
	m.LocksTotal.WithLabelValues(reason, result(err)).Inc()
}

// ComplianceChecked counts a check and tracks the latest verdict.
func (m *Metrics) ComplianceChecked(v security.ComplianceVerdict, err error) {
	switch {
	case errors.Is(err, security.ErrNoChecker):
		return
	case err != nil:
		m.ComplianceChecksTotal.WithLabelValues("error").Inc()
	case v.Compromised:
		m.ComplianceChecksTotal.WithLabelValues("compromised").Inc()
		m.Compromised.Set(1)
	default:
		m.ComplianceChecksTotal.WithLabelValues("clean").Inc()
		m.Compromised.Set(0)
	}
}

// ClipboardOp counts a clipboard operation.
func (m *Metrics) ClipboardOp(op string, err error) {
	m.ClipboardOpsTotal.WithLabelValues(op, result(err)).Inc()
}

// =============================================================================
// HTTP ENDPOINT
// =============================================================================

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on ln until ctx is done.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
