package mqtt5

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stat 会话级指标
type Stat struct {
	Uptime           prometheus.Counter
	ActiveSessions   prometheus.Gauge
	PacketReceived   prometheus.Counter
	ByteReceived     prometheus.Counter
	PacketSent       prometheus.Counter
	ByteSent         prometheus.Counter
	InFlight         prometheus.Gauge
	MessageDelivered prometheus.Counter
	MessageDropped   prometheus.Counter
}

var stat = Stat{
	Uptime:           prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_uptime_seconds", Help: "The uptime in seconds"}),
	ActiveSessions:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt5_active_session_count", Help: "The number of active MQTT sessions"}),
	PacketReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_received_packets", Help: "The total number of received MQTT packets"}),
	ByteReceived:     prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_received_bytes", Help: "The total number of received MQTT bytes"}),
	PacketSent:       prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_sent_packets", Help: "The total number of sent MQTT packets"}),
	ByteSent:         prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_sent_bytes", Help: "The total number of sent MQTT bytes"}),
	InFlight:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt5_inflight_publish_count", Help: "The number of unacknowledged QoS>0 publishes"}),
	MessageDelivered: prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_delivered_messages", Help: "The total number of messages delivered to subscription streams"}),
	MessageDropped:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt5_dropped_messages", Help: "The total number of inbound messages dropped"}),
}

// countReader 给读方向记字节数
type countReader struct {
	r io.Reader
}

func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	stat.ByteReceived.Add(float64(n))
	return n, err
}

// countWriter 给写方向记字节数
type countWriter struct {
	w io.Writer
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	stat.ByteSent.Add(float64(n))
	return n, err
}

// Register 把指标注册到默认registry
func (s *Stat) Register() {
	prometheus.MustRegister(s.Uptime)
	prometheus.MustRegister(s.ActiveSessions)
	prometheus.MustRegister(s.PacketReceived)
	prometheus.MustRegister(s.ByteReceived)
	prometheus.MustRegister(s.PacketSent)
	prometheus.MustRegister(s.ByteSent)
	prometheus.MustRegister(s.InFlight)
	prometheus.MustRegister(s.MessageDelivered)
	prometheus.MustRegister(s.MessageDropped)
}

func (s *Stat) RefreshUptime() {
	go func() {
		tick := time.NewTicker(time.Second)
		for range tick.C {
			s.Uptime.Inc()
		}
	}()
}

// Httpd 暴露 /metrics 和 pprof 的调试HTTP服务
func Httpd(addr string) error {
	stat.Register()
	stat.RefreshUptime()
	mux := requests.NewServeMux(requests.URL(addr))
	mux.Route("/metrics", promhttp.Handler())
	mux.Pprof()
	s := requests.NewServer(context.Background(), mux, requests.OnStart(func(s *http.Server) {
		log.Printf("http serve: %s", s.Addr)
	}))
	return s.ListenAndServe()
}
