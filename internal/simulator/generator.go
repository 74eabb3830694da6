package simulator

import (
	"math"
	"math/rand/v2"
)

// Reading is the payload a greenhouse controller board publishes on its data
// topic. Actuator states are sent as 0/1.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Soil        int     `json:"soil"`
	Pump        int     `json:"pump"`
	Fan         int     `json:"fan"`
	Light       int     `json:"light"`
}

// fanOnAbove mimics the board switching its fan on when it gets hot.
const fanOnAbove = 35.0

type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed so runs can be replayed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a reading with temperature in [28, 38) to one decimal place and
// soil moisture in [30, 90).
func (g *Generator) Next() Reading {
	temp := math.Round((28+g.rng.Float64()*10)*10) / 10
	r := Reading{
		Temperature: temp,
		Soil:        30 + g.rng.IntN(60),
		Pump:        g.coin(),
		Light:       g.coin(),
	}
	if temp > fanOnAbove {
		r.Fan = 1
	}
	return r
}

func (g *Generator) coin() int {
	if g.rng.Float64() > 0.5 {
		return 1
	}
	return 0
}
