// Package metrics exposes Prometheus collectors for the pet core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Core groups every collector the core records into.
type Core struct {
	ticks          prometheus.Counter
	deaths         prometheus.Counter
	actions        *prometheus.CounterVec
	livesEvents    *prometheus.CounterVec
	lives          *prometheus.GaugeVec
	collections    *prometheus.CounterVec
	remoteErrors   *prometheus.CounterVec
	persistErrors  *prometheus.CounterVec
	authorityCalls *prometheus.CounterVec
}

var (
	coreOnce     sync.Once
	coreRegistry *Core
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Core {
	coreOnce.Do(func() {
		coreRegistry = New()
		prometheus.MustRegister(coreRegistry.Collectors()...)
	})
	return coreRegistry
}

// New builds an unregistered set of collectors. Tests use this to avoid
// duplicate registration.
func New() *Core {
	return &Core{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wooligotchi_ticks_total",
			Help: "Simulation ticks applied to the active pet.",
		}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wooligotchi_deaths_total",
			Help: "Pet deaths observed.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wooligotchi_actions_total",
			Help: "User actions by kind and result.",
		}, []string{"action", "result"}),
		livesEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wooligotchi_lives_events_total",
			Help: "Lives ledger events by kind.",
		}, []string{"kind"}),
		lives: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wooligotchi_lives",
			Help: "Remaining lives for owners seen by this process.",
		}, []string{"owner"}),
		collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wooligotchi_wool_collections_total",
			Help: "WOOL collection attempts by outcome.",
		}, []string{"outcome"}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wooligotchi_remote_errors_total",
			Help: "Failed calls to remote authorities by endpoint.",
		}, []string{"endpoint"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wooligotchi_persist_errors_total",
			Help: "Swallowed local store failures by concern.",
		}, []string{"concern"}),
		authorityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wooligotchi_authority_collect_total",
			Help: "Collect requests handled by the reward authority by result.",
		}, []string{"result"}),
	}
}

// Collectors lists every collector for registration.
func (m *Core) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ticks, m.deaths, m.actions, m.livesEvents, m.lives,
		m.collections, m.remoteErrors, m.persistErrors, m.authorityCalls,
	}
}

func (m *Core) ObserveTick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Core) ObserveDeath() {
	if m == nil {
		return
	}
	m.deaths.Inc()
}

func (m *Core) ObserveAction(action string, accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	m.actions.WithLabelValues(action, result).Inc()
}

func (m *Core) ObserveLivesEvent(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.livesEvents.WithLabelValues(kind).Inc()
}

func (m *Core) SetLives(owner string, count int) {
	if m == nil {
		return
	}
	m.lives.WithLabelValues(owner).Set(float64(count))
}

func (m *Core) ObserveCollection(outcome string) {
	if m == nil {
		return
	}
	m.collections.WithLabelValues(outcome).Inc()
}

func (m *Core) ObserveRemoteError(endpoint string) {
	if m == nil {
		return
	}
	m.remoteErrors.WithLabelValues(endpoint).Inc()
}

func (m *Core) ObservePersistError(concern string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(concern).Inc()
}

func (m *Core) ObserveAuthorityCollect(result string) {
	if m == nil {
		return
	}
	m.authorityCalls.WithLabelValues(result).Inc()
}
