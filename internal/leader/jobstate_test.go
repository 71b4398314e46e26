package leader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompleteWorkerReportsDoneOnlyWhenAllWorkersFinish(t *testing.T) {
	j := NewJobState()
	j.StartJob("job1", []int{2, 3, 4})

	require.False(t, j.CompleteWorker("job1", 2))
	require.False(t, j.CompleteWorker("job1", 3))
	require.True(t, j.CompleteWorker("job1", 4))
}

func TestCompleteWorkerUnknownJobIsNotDone(t *testing.T) {
	j := NewJobState()
	require.False(t, j.CompleteWorker("nosuch", 1))
}

func TestAppendPartialAndTakePartialsForJob(t *testing.T) {
	j := NewJobState()
	j.AppendPartial("inter1", "apple", "f1")
	j.AppendPartial("inter1", "apple", "f2")
	j.AppendPartial("inter1", "banana", "f3")
	j.RecordKeySeen("inter1", "apple")
	j.RecordKeySeen("inter1", "banana")

	keys := j.TakeKeysSeen("inter1")
	require.ElementsMatch(t, []string{"apple", "banana"}, keys)

	partials := j.TakePartialsForJob("inter1", keys)
	require.Equal(t, []string{"f1", "f2"}, partials["apple"])
	require.Equal(t, []string{"f3"}, partials["banana"])

	// A second take finds nothing left.
	require.Empty(t, j.TakePartialsForJob("inter1", keys))
}

func TestTakeKeysSeenClearsState(t *testing.T) {
	j := NewJobState()
	j.RecordKeySeen("inter1", "apple")
	first := j.TakeKeysSeen("inter1")
	require.Equal(t, []string{"apple"}, first)

	second := j.TakeKeysSeen("inter1")
	require.Empty(t, second)
}

func TestAppendJobKeysAndJobKeys(t *testing.T) {
	j := NewJobState()
	_, ok := j.JobKeys("missing")
	require.False(t, ok)

	j.AppendJobKeys("inter1", []string{"k1", "k2"})
	keys, ok := j.JobKeys("inter1")
	require.True(t, ok)
	require.Equal(t, []string{"k1", "k2"}, keys)

	// Returned slice is a copy: mutating it must not affect internal state.
	keys[0] = "mutated"
	keys2, _ := j.JobKeys("inter1")
	require.Equal(t, "k1", keys2[0])
}

func TestAppendReducePartialAndTakeReducePartials(t *testing.T) {
	j := NewJobState()
	j.AppendReducePartial("out1", "r1")
	j.AppendReducePartial("out1", "r2")

	partials := j.TakeReducePartials("out1")
	require.Equal(t, []string{"r1", "r2"}, partials)
	require.Empty(t, j.TakeReducePartials("out1"))
}
