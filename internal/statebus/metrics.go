package statebus

import "github.com/prometheus/client_golang/prometheus"

var mqttMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gomow_mqtt_messages_total",
		Help: "MQTT messages bridged to or from the state bus",
	},
	[]string{"direction"},
)

// MetricsCollectors returns collectors for the MQTT bridge.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{mqttMessages}
}
