package imapsn

import (
	"errors"

	"github.com/opd-ai/imapsn/mail"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics counts protocol traffic for one session.
type metrics struct {
	inbound  *prometheus.CounterVec
	outbound *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	inbound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imapsn",
		Name:      "inbound_messages_total",
		Help:      "Inbound protocol messages processed, by kind and outcome.",
	}, []string{"kind", "outcome"})
	outbound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imapsn",
		Name:      "outbound_envelopes_total",
		Help:      "Signed envelopes handed to the mail transport, by kind.",
	}, []string{"kind"})

	var err error
	if inbound, err = register(reg, inbound); err != nil {
		return nil, err
	}
	if outbound, err = register(reg, outbound); err != nil {
		return nil, err
	}
	return &metrics{inbound: inbound, outbound: outbound}, nil
}

// register adds c to reg, reusing a collector that is already registered so
// several sessions can share one registry.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, err
}

// countingTransport counts every envelope handed to the wrapped transport.
type countingTransport struct {
	next mail.Transport
	sent *prometheus.CounterVec
}

// Send implements mail.Transport.
func (c *countingTransport) Send(from string, to []string, subject, attachmentName string, data []byte) error {
	kind := "other"
	if k, ok := mail.KindOfAttachment(attachmentName); ok {
		kind = string(k)
	}
	c.sent.WithLabelValues(kind).Inc()
	return c.next.Send(from, to, subject, attachmentName, data)
}
