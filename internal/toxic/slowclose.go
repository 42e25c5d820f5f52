package toxic

import "time"

// SlowClose never touches data; both byte operations are no-ops. It is
// consulted only at teardown: on EOF, the forwarder delays socket close by
// delay before half-closing.
type SlowClose struct {
	delay time.Duration
}

// NewSlowClose returns a SlowClose toxic with the given teardown delay.
func NewSlowClose(delay time.Duration) *SlowClose {
	return &SlowClose{delay: delay}
}

func (s *SlowClose) Type() string { return "slow_close" }

func (s *SlowClose) ApplyUpstream(buf []byte, rec Recorder)   {}
func (s *SlowClose) ApplyDownstream(buf []byte, rec Recorder) {}

// Delay returns the configured teardown delay.
func (s *SlowClose) Delay() time.Duration { return s.delay }
