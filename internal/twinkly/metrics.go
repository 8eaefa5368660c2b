package twinkly

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinkly_requests_total",
			Help: "Authenticated requests sent to Twinkly devices by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	authCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinkly_authentications_total",
			Help: "Login and token verification attempts by result.",
		},
		[]string{"result"},
	)
)

func init() { prometheus.MustRegister(requestCounter, authCounter) }
