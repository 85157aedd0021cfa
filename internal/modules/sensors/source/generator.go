package source

import (
	"context"
	"math/rand/v2"
	"time"

	"iotdrone-monitor/internal/modules/sensors/types"
)

const (
	minTemperature = 20.0
	maxTemperature = 30.0
	minHumidity    = 30.0
	maxHumidity    = 70.0
)

// Generator produces synthetic readings. It never fails and always has data.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator uses rng when non-nil, otherwise a randomly seeded source.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng, now: time.Now}
}

func (g *Generator) Name() string { return "synthetic" }

// Next leaves the ID empty; the store assigns the arrival sequence number.
func (g *Generator) Next(context.Context) (types.Reading, bool, error) {
	return types.Reading{
		Timestamp:   g.now().Format(types.TimestampLayout),
		Temperature: uniform(g.rng, minTemperature, maxTemperature),
		Humidity:    uniform(g.rng, minHumidity, maxHumidity),
	}, true, nil
}

// uniform draws from [lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	v := lo + rng.Float64()*(hi-lo)
	if v >= hi {
		// Float rounding can land exactly on hi for some draws.
		return lo
	}
	return v
}
