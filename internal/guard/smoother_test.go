package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmootherEWMAConvergesToConstant(t *testing.T) {
	s := NewSmoother(WithStartTime(epoch))
	for i := 0; i < 200; i++ {
		s.Update("rtt_ms", 42, epoch.Add(time.Duration(i)*time.Second))
	}
	assert.InDelta(t, 42.0, s.EWMA("rtt_ms"), 1e-9)
	assert.Equal(t, 200, s.Count("rtt_ms"))
}

func TestSmootherEWMAStartsFromZero(t *testing.T) {
	s := NewSmoother(WithDefaultAlpha(0.3))
	want := []float64{60, 102, 131.4, 631.98}
	for i, v := range []float64{200, 200, 200, 1800} {
		st := s.Update("rtt_ms", v, epoch)
		assert.InDelta(t, want[i], st.EWMA, 1e-9, "sample %d", i)
	}
}

func TestSmootherPerMetricAlpha(t *testing.T) {
	s := NewSmoother(WithAlpha("slippage_bps", 1))
	s.Update("slippage_bps", 12, epoch)
	s.Update("rtt_ms", 100, epoch)

	assert.Equal(t, 12.0, s.EWMA("slippage_bps"))
	assert.InDelta(t, 30.0, s.EWMA("rtt_ms"), 1e-9)
}

func TestSmootherPercentileInterpolates(t *testing.T) {
	s := NewSmoother()
	for _, v := range []float64{1800, 200, 200, 200} {
		s.Update("rtt_ms", v, epoch)
	}

	assert.InDelta(t, 1752.0, s.Percentile("rtt_ms", 99), 1e-9)
	assert.InDelta(t, 200.0, s.Percentile("rtt_ms", 50), 1e-9)
	assert.Equal(t, 200.0, s.Percentile("rtt_ms", 0))
	assert.Equal(t, 1800.0, s.Percentile("rtt_ms", 100))
	assert.Equal(t, 1800.0, s.Max("rtt_ms"))
	assert.Zero(t, s.Percentile("unknown", 99))
}

func TestSmootherWindowEvictsOldest(t *testing.T) {
	s := NewSmoother(WithWindowCapacity(3))
	for _, v := range []float64{900, 1, 2, 3} {
		s.Update("gap_ms", v, epoch)
	}

	assert.Equal(t, 3.0, s.Max("gap_ms"))
	assert.Equal(t, 4, s.Count("gap_ms"))
}

func TestSmootherSilence(t *testing.T) {
	s := NewSmoother(WithStartTime(epoch))

	assert.Equal(t, 10*time.Second, s.Silence("orderstream_msgs", epoch.Add(10*time.Second)))

	s.Update("orderstream_msgs", 5, epoch.Add(20*time.Second))
	assert.Equal(t, 5*time.Second, s.Silence("orderstream_msgs", epoch.Add(25*time.Second)))
	assert.Zero(t, s.Silence("orderstream_msgs", epoch))
}

func TestSmootherConcurrentUpdates(t *testing.T) {
	s := NewSmoother(WithWindowCapacity(64))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Update("rtt_ms", 100, epoch)
				s.Update("gap_ms", 5, epoch)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 4000, s.Count("rtt_ms"))
	assert.InDelta(t, 100.0, s.EWMA("rtt_ms"), 1e-6)
	assert.Len(t, s.Snapshot(), 2)
}
