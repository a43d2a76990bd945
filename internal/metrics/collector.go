package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/queuelink/internal/buffer"
	"github.com/rickgao/queuelink/internal/connection"
	"github.com/rickgao/queuelink/internal/hub"
	"github.com/rickgao/queuelink/internal/poller"
	"github.com/rickgao/queuelink/internal/router"
	"github.com/rickgao/queuelink/internal/version"
	"github.com/rickgao/queuelink/internal/writer"
)

const namespace = "queuelink"

var connectionStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnectPending,
	connection.StateFailed,
}

var (
	buildInfoDesc = prometheus.NewDesc(namespace+"_build_info",
		"Build information.", []string{"version", "commit"}, nil)

	connStateDesc = prometheus.NewDesc(namespace+"_connection_state",
		"1 for the stream connection's current state, 0 otherwise.", []string{"state"}, nil)
	connAttemptsDesc = prometheus.NewDesc(namespace+"_connection_reconnect_attempts",
		"Current reconnect counter.", nil, nil)
	connDialsDesc = prometheus.NewDesc(namespace+"_connection_dials_total",
		"Connection handles opened.", nil, nil)
	connOpensDesc = prometheus.NewDesc(namespace+"_connection_opens_total",
		"Successful opens.", nil, nil)
	connAbnormalDesc = prometheus.NewDesc(namespace+"_connection_abnormal_closes_total",
		"Closes with a code other than 1000.", nil, nil)
	connMessagesDesc = prometheus.NewDesc(namespace+"_connection_messages_received_total",
		"Frames decoded as JSON.", nil, nil)
	connDecodeErrDesc = prometheus.NewDesc(namespace+"_connection_decode_errors_total",
		"Frames dropped because they were not valid JSON.", nil, nil)
	connDroppedDesc = prometheus.NewDesc(namespace+"_connection_sends_dropped_total",
		"Send calls rejected while not connected.", nil, nil)
	connFailuresDesc = prometheus.NewDesc(namespace+"_connection_failures_total",
		"Times the reconnect budget was exhausted.", nil, nil)

	routerReceivedDesc = prometheus.NewDesc(namespace+"_router_messages_received_total",
		"Messages handed to the router.", nil, nil)
	routerRoutedDesc = prometheus.NewDesc(namespace+"_router_messages_routed_total",
		"Messages parsed and routed to an output.", nil, nil)
	routerParseErrDesc = prometheus.NewDesc(namespace+"_router_parse_errors_total",
		"Typed messages whose data failed to parse.", nil, nil)
	routerUnknownDesc = prometheus.NewDesc(namespace+"_router_unknown_messages_total",
		"Messages with no or an unknown type.", nil, nil)
	bufferDepthDesc = prometheus.NewDesc(namespace+"_router_buffer_depth",
		"Messages waiting in a router buffer.", []string{"buffer"}, nil)
	bufferCapDesc = prometheus.NewDesc(namespace+"_router_buffer_capacity",
		"Current capacity of a router buffer.", []string{"buffer"}, nil)

	hubConnsDesc = prometheus.NewDesc(namespace+"_hub_connections",
		"Registered hub connections.", []string{"role"}, nil)
	hubUsersDesc = prometheus.NewDesc(namespace+"_hub_users",
		"Users with a personal route.", nil, nil)
	hubSentDesc = prometheus.NewDesc(namespace+"_hub_messages_sent_total",
		"Successful hub writes.", nil, nil)
	hubFailuresDesc = prometheus.NewDesc(namespace+"_hub_send_failures_total",
		"Hub writes that failed and dropped the client.", nil, nil)

	pollerCyclesDesc = prometheus.NewDesc(namespace+"_poller_cycles_total",
		"REST poll cycles run.", nil, nil)
	pollerSkippedDesc = prometheus.NewDesc(namespace+"_poller_skipped_total",
		"REST poll cycles skipped while the stream was connected.", nil, nil)
	pollerFetchedDesc = prometheus.NewDesc(namespace+"_poller_fetches_total",
		"REST fetches by result.", []string{"result"}, nil)

	writerInsertsDesc = prometheus.NewDesc(namespace+"_writer_inserts_total",
		"Rows inserted by an archive writer.", []string{"writer"}, nil)
	writerConflictsDesc = prometheus.NewDesc(namespace+"_writer_conflicts_total",
		"Rows skipped as duplicates.", []string{"writer"}, nil)
	writerErrorsDesc = prometheus.NewDesc(namespace+"_writer_errors_total",
		"Failed inserts.", []string{"writer"}, nil)
	writerFlushesDesc = prometheus.NewDesc(namespace+"_writer_flushes_total",
		"Batch flushes.", []string{"writer"}, nil)
)

// Collector implements prometheus.Collector over live component stats.
// Sources are optional; unset sources emit nothing.
type Collector struct {
	mu         sync.RWMutex
	connection func() connection.ManagerStats
	router     func() router.RouterStats
	hub        func() hub.Stats
	poller     func() poller.Stats
	writers    map[string]func() writer.WriterMetrics
}

// NewCollector creates a Collector with no sources.
func NewCollector() *Collector {
	return &Collector{writers: make(map[string]func() writer.WriterMetrics)}
}

// SetConnection sets the stream connection stats source.
func (c *Collector) SetConnection(fn func() connection.ManagerStats) {
	c.mu.Lock()
	c.connection = fn
	c.mu.Unlock()
}

// SetRouter sets the router stats source.
func (c *Collector) SetRouter(fn func() router.RouterStats) {
	c.mu.Lock()
	c.router = fn
	c.mu.Unlock()
}

// SetHub sets the hub stats source.
func (c *Collector) SetHub(fn func() hub.Stats) {
	c.mu.Lock()
	c.hub = fn
	c.mu.Unlock()
}

// SetPoller sets the REST poller stats source.
func (c *Collector) SetPoller(fn func() poller.Stats) {
	c.mu.Lock()
	c.poller = fn
	c.mu.Unlock()
}

// AddWriter registers an archive writer's stats under name.
func (c *Collector) AddWriter(name string, fn func() writer.WriterMetrics) {
	c.mu.Lock()
	c.writers[name] = fn
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		buildInfoDesc,
		connStateDesc, connAttemptsDesc, connDialsDesc, connOpensDesc, connAbnormalDesc,
		connMessagesDesc, connDecodeErrDesc, connDroppedDesc, connFailuresDesc,
		routerReceivedDesc, routerRoutedDesc, routerParseErrDesc, routerUnknownDesc,
		bufferDepthDesc, bufferCapDesc,
		hubConnsDesc, hubUsersDesc, hubSentDesc, hubFailuresDesc,
		pollerCyclesDesc, pollerSkippedDesc, pollerFetchedDesc,
		writerInsertsDesc, writerConflictsDesc, writerErrorsDesc, writerFlushesDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch <- prometheus.MustNewConstMetric(buildInfoDesc, prometheus.GaugeValue, 1, version.Version, version.Commit)

	if c.connection != nil {
		collectConnection(ch, c.connection())
	}
	if c.router != nil {
		collectRouter(ch, c.router())
	}
	if c.hub != nil {
		collectHub(ch, c.hub())
	}
	if c.poller != nil {
		s := c.poller()
		ch <- prometheus.MustNewConstMetric(pollerCyclesDesc, prometheus.CounterValue, float64(s.Cycles))
		ch <- prometheus.MustNewConstMetric(pollerSkippedDesc, prometheus.CounterValue, float64(s.Skipped))
		ch <- prometheus.MustNewConstMetric(pollerFetchedDesc, prometheus.CounterValue, float64(s.Fetched), "ok")
		ch <- prometheus.MustNewConstMetric(pollerFetchedDesc, prometheus.CounterValue, float64(s.Errors), "error")
	}

	names := make([]string, 0, len(c.writers))
	for name := range c.writers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		collectWriter(ch, name, c.writers[name]())
	}
}

func collectConnection(ch chan<- prometheus.Metric, s connection.ManagerStats) {
	for _, st := range connectionStates {
		v := 0.0
		if s.State == st {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(connStateDesc, prometheus.GaugeValue, v, st.String())
	}
	ch <- prometheus.MustNewConstMetric(connAttemptsDesc, prometheus.GaugeValue, float64(s.ReconnectAttempts))
	ch <- prometheus.MustNewConstMetric(connDialsDesc, prometheus.CounterValue, float64(s.Dials))
	ch <- prometheus.MustNewConstMetric(connOpensDesc, prometheus.CounterValue, float64(s.Opens))
	ch <- prometheus.MustNewConstMetric(connAbnormalDesc, prometheus.CounterValue, float64(s.AbnormalCloses))
	ch <- prometheus.MustNewConstMetric(connMessagesDesc, prometheus.CounterValue, float64(s.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(connDecodeErrDesc, prometheus.CounterValue, float64(s.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(connDroppedDesc, prometheus.CounterValue, float64(s.SendsDropped))
	ch <- prometheus.MustNewConstMetric(connFailuresDesc, prometheus.CounterValue, float64(s.Failures))
}

func collectRouter(ch chan<- prometheus.Metric, s router.RouterStats) {
	ch <- prometheus.MustNewConstMetric(routerReceivedDesc, prometheus.CounterValue, float64(s.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(routerRoutedDesc, prometheus.CounterValue, float64(s.MessagesRouted))
	ch <- prometheus.MustNewConstMetric(routerParseErrDesc, prometheus.CounterValue, float64(s.ParseErrors))
	ch <- prometheus.MustNewConstMetric(routerUnknownDesc, prometheus.CounterValue, float64(s.UnknownMessages))

	for _, b := range []struct {
		name  string
		stats buffer.Stats
	}{
		{"input", s.InputBuffer},
		{"queue", s.QueueBuffer},
		{"token", s.TokenBuffer},
		{"analytics", s.AnalyticsBuffer},
	} {
		ch <- prometheus.MustNewConstMetric(bufferDepthDesc, prometheus.GaugeValue, float64(b.stats.Count), b.name)
		ch <- prometheus.MustNewConstMetric(bufferCapDesc, prometheus.GaugeValue, float64(b.stats.Capacity), b.name)
	}
}

func collectHub(ch chan<- prometheus.Metric, s hub.Stats) {
	for _, r := range hub.Roles {
		ch <- prometheus.MustNewConstMetric(hubConnsDesc, prometheus.GaugeValue, float64(s.Connections[r]), string(r))
	}
	ch <- prometheus.MustNewConstMetric(hubUsersDesc, prometheus.GaugeValue, float64(s.Users))
	ch <- prometheus.MustNewConstMetric(hubSentDesc, prometheus.CounterValue, float64(s.MessagesSent))
	ch <- prometheus.MustNewConstMetric(hubFailuresDesc, prometheus.CounterValue, float64(s.SendFailures))
}

func collectWriter(ch chan<- prometheus.Metric, name string, s writer.WriterMetrics) {
	ch <- prometheus.MustNewConstMetric(writerInsertsDesc, prometheus.CounterValue, float64(s.Inserts), name)
	ch <- prometheus.MustNewConstMetric(writerConflictsDesc, prometheus.CounterValue, float64(s.Conflicts), name)
	ch <- prometheus.MustNewConstMetric(writerErrorsDesc, prometheus.CounterValue, float64(s.Errors), name)
	ch <- prometheus.MustNewConstMetric(writerFlushesDesc, prometheus.CounterValue, float64(s.Flushes), name)
}

// NewRegistry returns a registry with the Go runtime and process collectors
// plus c.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c,
	)
	return reg
}
