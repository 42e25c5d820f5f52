package toxic

import (
	"math/rand"
	"sync"
	"time"
)

// Corrupt replaces buf[0] with a freshly drawn uniform byte with Bernoulli
// probability p per invocation, when buf is non-empty. Both directions
// behave identically. Byte index 0 is the only target; a CorruptAll with a
// per-byte probability is not implemented.
type Corrupt struct {
	probability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCorrupt returns a Corrupt toxic with the given per-chunk probability.
func NewCorrupt(probability float64) *Corrupt {
	return &Corrupt{
		probability: probability,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Corrupt) Type() string { return "corrupt" }

func (c *Corrupt) ApplyUpstream(buf []byte, rec Recorder) {
	c.corrupt(buf, rec)
}

func (c *Corrupt) ApplyDownstream(buf []byte, rec Recorder) {
	c.corrupt(buf, rec)
}

func (c *Corrupt) corrupt(buf []byte, rec Recorder) {
	if len(buf) == 0 || c.probability <= 0 {
		return
	}

	c.mu.Lock()
	hit := c.rng.Float64() < c.probability
	var b byte
	if hit {
		b = byte(c.rng.Intn(256))
	}
	c.mu.Unlock()

	if !hit {
		return
	}

	buf[0] = b
	rec.RecordActivation(c.Type())
	rec.RecordCorruption()
}

// Probability returns the configured per-chunk corruption probability.
func (c *Corrupt) Probability() float64 { return c.probability }
