package payout

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/warp/payout-engine/payout"

var tracer = otel.Tracer(instrumentationName)

// generatorMetrics are created against the global meter provider; with no
// provider installed they are no-ops.
type generatorMetrics struct {
	batches  metric.Int64Counter
	payments metric.Int64Counter
	skipped  metric.Int64Counter
	failures metric.Int64Counter
}

func newGeneratorMetrics() generatorMetrics {
	meter := otel.Meter(instrumentationName)
	return generatorMetrics{
		batches:  counter(meter, "payout.batches.generated", "Batches committed by the generator"),
		payments: counter(meter, "payout.payments.created", "Scheduled payments created"),
		skipped:  counter(meter, "payout.writers.skipped", "Writers skipped for lack of a wallet"),
		failures: counter(meter, "payout.batches.failed", "Generation attempts rolled back"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
