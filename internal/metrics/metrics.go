package metrics

import (
	"strconv"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lines counts device lines by outcome: "accepted" or "dropped".
var Lines = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "climate_bridge_serial_lines_total",
		Help: "Device lines received, by parse outcome",
	},
	[]string{"result"},
)

// Commands counts command requests by outcome: "sent", "failed",
// "unavailable" or "rejected".
var Commands = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "climate_bridge_commands_total",
		Help: "Commands forwarded to the device, by outcome",
	},
	[]string{"result"},
)

var LinkUp = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "climate_bridge_serial_link_up",
		Help: "1 if the serial port was opened successfully",
	},
)

// Only set when the device value parses as a number.
var Temperature = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "climate_bridge_temperature_celsius",
		Help: "Latest temperature reported by the device",
	},
)

var Humidity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "climate_bridge_humidity_percent",
		Help: "Latest relative humidity reported by the device",
	},
)

var CommandWrite = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "climate_bridge_command_write_seconds",
		Help:    "Time spent writing a command to the serial port",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
	},
)

func SetLinkUp(up bool) {
	if up {
		LinkUp.Set(1)
	} else {
		LinkUp.Set(0)
	}
}

// ReadingSink records accepted readings and dropped lines. It plugs into
// sensor.Pipeline as both a Sink and a DropObserver.
type ReadingSink struct{}

func (ReadingSink) Name() string { return "metrics" }

func (ReadingSink) Publish(r sensor.Reading) error {
	Lines.WithLabelValues("accepted").Inc()
	if v, err := strconv.ParseFloat(r.Temperature, 64); err == nil {
		Temperature.Set(v)
	}
	if v, err := strconv.ParseFloat(r.Humidity, 64); err == nil {
		Humidity.Set(v)
	}
	return nil
}

func (ReadingSink) LineDropped(string) {
	Lines.WithLabelValues("dropped").Inc()
}
