package metrics

import (
	"net"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/publicsuffix"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_requests_total",
			Help: "Total number of proxied requests.",
		},
		[]string{"method", "domain", "route"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pac_router_request_duration_seconds",
			Help:    "Request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RequestsByDomain = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_requests_by_domain_total",
			Help: "Request count per registrable destination domain.",
		},
		[]string{"domain", "route"},
	)

	BytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_bytes_sent_total",
			Help: "Total bytes sent to clients.",
		},
		[]string{"route"},
	)

	BytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_bytes_received_total",
			Help: "Total bytes received from clients.",
		},
		[]string{"route"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pac_router_active_connections",
			Help: "Number of currently active proxy connections.",
		},
	)

	ReloadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_reload_total",
			Help: "Count of rule table reloads.",
		},
		[]string{"source", "status"},
	)

	RulesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pac_router_rules_loaded",
			Help: "Number of rules in the live table.",
		},
	)

	RuleMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_rule_matches_total",
			Help: "Requests decided by each rule position; \"default\" when no rule matched.",
		},
		[]string{"rule"},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_router_upstream_errors_total",
			Help: "Count of errors connecting to upstream proxies.",
		},
		[]string{"upstream"},
	)
)

// All collects all metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		RequestsByDomain,
		BytesSent,
		BytesReceived,
		ActiveConnections,
		ReloadTotal,
		RulesLoaded,
		RuleMatches,
		UpstreamErrors,
	}
}

// RegisterOn registers all metrics on the given registry.
func RegisterOn(reg prometheus.Registerer) {
	for _, c := range All() {
		reg.MustRegister(c)
	}
}

// Register registers all metrics on the default registry.
func Register() {
	RegisterOn(prometheus.DefaultRegisterer)
}

// RuleLabel is the rule_matches label for a rule position.
func RuleLabel(rule int) string {
	if rule < 0 {
		return "default"
	}
	return strconv.Itoa(rule)
}

// DomainLabel reduces a host to its registrable domain so per-domain
// series stay bounded. IP literals collapse to "ip".
func DomainLabel(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "unknown"
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "ip"
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
