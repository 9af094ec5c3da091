// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry metrics
	entitiesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uc_emby_entities_active",
		Help: "Number of media-player entities currently registered",
	})

	entityChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_entity_changes_total",
		Help: "Entities added to or removed from the registry",
	}, []string{"change"}) // change=added|removed|gone

	reconcileCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_reconcile_cycles_total",
		Help: "Reconciliation cycles by outcome",
	}, []string{"outcome"}) // outcome=success|list_error|panic

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uc_emby_reconcile_duration_seconds",
		Help:    "Time spent in one reconciliation cycle",
		Buckets: prometheus.DefBuckets,
	})

	// Entity metrics
	refreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uc_emby_refresh_failures_total",
		Help: "Total number of per-entity session refresh failures",
	})

	attributeUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uc_emby_attribute_updates_total",
		Help: "Total number of attribute change notifications pushed to the host",
	})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_commands_total",
		Help: "Entity commands by command id and result status",
	}, []string{"command", "status"})

	// Lifecycle metrics
	lifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "uc_emby_lifecycle_state",
		Help: "Integration lifecycle state (active state=1; others 0)",
	}, []string{"state"})

	initializationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_initializations_total",
		Help: "Connection initializations by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	setupResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_setup_results_total",
		Help: "Setup attempts by result",
	}, []string{"result"})

	// Host protocol metrics
	hostConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uc_emby_host_connections",
		Help: "Number of connected remote hosts",
	})

	hostMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_host_messages_total",
		Help: "Host protocol messages by direction and message name",
	}, []string{"direction", "msg"}) // direction=in|out
)

var lifecycleStates = []string{"UNCONFIGURED", "INITIALIZING", "READY", "ERROR"}

func SetEntitiesActive(n int) { entitiesActive.Set(float64(n)) }

func IncEntityChange(change string) { entityChangesTotal.WithLabelValues(change).Inc() }

func RecordReconcileCycle(outcome string, seconds float64) {
	reconcileCyclesTotal.WithLabelValues(outcome).Inc()
	reconcileDurationSeconds.Observe(seconds)
}

func IncRefreshFailure()  { refreshFailuresTotal.Inc() }
func IncAttributeUpdate() { attributeUpdatesTotal.Inc() }

func IncCommand(command, status string) { commandsTotal.WithLabelValues(command, status).Inc() }

// SetLifecycleState marks state as the active lifecycle state.
func SetLifecycleState(state string) {
	for _, s := range lifecycleStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		lifecycleState.WithLabelValues(s).Set(value)
	}
}

func IncInitialization(success bool) {
	if success {
		initializationsTotal.WithLabelValues("success").Inc()
		return
	}
	initializationsTotal.WithLabelValues("failure").Inc()
}

func IncSetupResult(result string) { setupResultsTotal.WithLabelValues(result).Inc() }

func HostConnected()    { hostConnections.Inc() }
func HostDisconnected() { hostConnections.Dec() }

func IncHostMessage(direction, msg string) {
	if msg == "" {
		msg = "unknown"
	}
	hostMessagesTotal.WithLabelValues(direction, msg).Inc()
}

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "uc_emby_circuit_breaker_state",
		Help: "Emby client breaker state, one-hot over closed/half-open/open",
	}, []string{"component", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uc_emby_circuit_breaker_trips_total",
		Help: "Transitions of the Emby client breaker into the open state",
	}, []string{"component", "reason"})

	breakerStates = [...]string{"closed", "half-open", "open"}
)

// SetCircuitBreakerState marks state as the active breaker state of component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(component, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts one open transition.
func RecordCircuitBreakerTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}
