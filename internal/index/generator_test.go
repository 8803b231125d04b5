package index

import (
	"fmt"
	"math/rand"
	"time"
)

// run is a minimal heap item used across the tests.
type run struct {
	JobID       string
	ScheduledAt time.Time
}

func runBefore(a, b *run) bool {
	return a.ScheduledAt.Before(b.ScheduledAt)
}

// generateShuffledRuns generates count runs spaced by interval and shuffles them
// with a fixed seed so failures are reproducible.
func generateShuffledRuns(count int, startTime time.Time, interval time.Duration) []*run {
	runs := make([]*run, count)
	for i := 0; i < count; i++ {
		runs[i] = &run{
			JobID:       generateJobID(i),
			ScheduledAt: startTime.Add(time.Duration(i) * interval),
		}
	}

	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(runs), func(i, j int) { runs[i], runs[j] = runs[j], runs[i] })
	return runs
}

// generateCoincidentRuns generates multiple runs at the exact same time.
func generateCoincidentRuns(count int, sameTime time.Time) []*run {
	runs := make([]*run, count)
	for i := 0; i < count; i++ {
		runs[i] = &run{
			JobID:       generateJobID(i),
			ScheduledAt: sameTime,
		}
	}
	return runs
}

// generateJobID generates a job ID with realistic format.
func generateJobID(index int) string {
	return fmt.Sprintf("job-%04d", index)
}
