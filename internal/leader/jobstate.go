package leader

import "sync"

// JobState holds the leader-only job tracking structures from spec.md §3,
// each under its own lock. Per spec.md §5's "take locks in the order listed
// in §3 to avoid cycles", any code path needing more than one of these
// locks at once acquires them in this order: JobKeys, PerKeyPartials,
// OngoingJobs, ReduceOutputs.
type JobState struct {
	jobKeysMu sync.Mutex
	jobKeys   map[string][]string // inter_prefix -> final intermediate key-filenames

	partialsMu      sync.Mutex
	perKeyPartials map[partialKey][]string // (inter_prefix, key) -> per-worker partial filenames

	ongoingMu    sync.Mutex
	ongoingJobs map[string]map[int]bool // job_id -> outstanding worker indices

	reduceMu      sync.Mutex
	reduceOutputs map[string][]string // final_output_name -> per-worker reduce partials

	seenMu  sync.Mutex
	keysSeen map[string]map[string]bool // inter_prefix -> set of keys reported so far
}

type partialKey struct {
	InterPrefix string
	Key         string
}

// NewJobState creates empty job-tracking state.
func NewJobState() *JobState {
	return &JobState{
		jobKeys:        make(map[string][]string),
		perKeyPartials: make(map[partialKey][]string),
		ongoingJobs:    make(map[string]map[int]bool),
		reduceOutputs:  make(map[string][]string),
		keysSeen:       make(map[string]map[string]bool),
	}
}

// RecordKeySeen remembers that interPrefix produced key, so a later
// completion can look up exactly which rows of perKeyPartials belong to
// this job.
func (j *JobState) RecordKeySeen(interPrefix, key string) {
	j.seenMu.Lock()
	defer j.seenMu.Unlock()
	set, ok := j.keysSeen[interPrefix]
	if !ok {
		set = make(map[string]bool)
		j.keysSeen[interPrefix] = set
	}
	set[key] = true
}

// TakeKeysSeen removes and returns every key reported so far for
// interPrefix.
func (j *JobState) TakeKeysSeen(interPrefix string) []string {
	j.seenMu.Lock()
	defer j.seenMu.Unlock()
	set := j.keysSeen[interPrefix]
	delete(j.keysSeen, interPrefix)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// StartJob records a newly dispatched job's outstanding worker set.
func (j *JobState) StartJob(jobID string, workers []int) {
	j.ongoingMu.Lock()
	defer j.ongoingMu.Unlock()
	set := make(map[int]bool, len(workers))
	for _, w := range workers {
		set[w] = true
	}
	j.ongoingJobs[jobID] = set
}

// CompleteWorker removes workerIdx from jobID's outstanding set and reports
// whether the job is now fully complete (outstanding set empty).
func (j *JobState) CompleteWorker(jobID string, workerIdx int) (done bool) {
	j.ongoingMu.Lock()
	defer j.ongoingMu.Unlock()
	set, ok := j.ongoingJobs[jobID]
	if !ok {
		return false
	}
	delete(set, workerIdx)
	if len(set) == 0 {
		delete(j.ongoingJobs, jobID)
		return true
	}
	return false
}

// AppendPartial records one worker's per-key partial filename for a MAPLE
// job.
func (j *JobState) AppendPartial(interPrefix, key, partialFile string) {
	j.partialsMu.Lock()
	defer j.partialsMu.Unlock()
	k := partialKey{InterPrefix: interPrefix, Key: key}
	j.perKeyPartials[k] = append(j.perKeyPartials[k], partialFile)
}

// TakePartialsForJob removes and returns every (key, partials) row
// belonging to interPrefix, for coalescing once a MAPLE job completes.
// Keys are returned in an arbitrary but stable-per-call order.
func (j *JobState) TakePartialsForJob(interPrefix string, keysSeen []string) map[string][]string {
	j.partialsMu.Lock()
	defer j.partialsMu.Unlock()
	out := make(map[string][]string, len(keysSeen))
	for _, key := range keysSeen {
		k := partialKey{InterPrefix: interPrefix, Key: key}
		if files, ok := j.perKeyPartials[k]; ok {
			out[key] = files
			delete(j.perKeyPartials, k)
		}
	}
	return out
}

// AppendJobKeys records the coalesced key-filenames produced for
// interPrefix, making them available to a later JUICE request.
func (j *JobState) AppendJobKeys(interPrefix string, keys []string) {
	j.jobKeysMu.Lock()
	defer j.jobKeysMu.Unlock()
	j.jobKeys[interPrefix] = append(j.jobKeys[interPrefix], keys...)
}

// JobKeys returns a copy of the coalesced key list for interPrefix.
func (j *JobState) JobKeys(interPrefix string) ([]string, bool) {
	j.jobKeysMu.Lock()
	defer j.jobKeysMu.Unlock()
	keys, ok := j.jobKeys[interPrefix]
	if !ok {
		return nil, false
	}
	return append([]string(nil), keys...), true
}

// AppendReducePartial records one worker's reduce-phase partial output.
func (j *JobState) AppendReducePartial(finalOutput, partial string) {
	j.reduceMu.Lock()
	defer j.reduceMu.Unlock()
	j.reduceOutputs[finalOutput] = append(j.reduceOutputs[finalOutput], partial)
}

// TakeReducePartials removes and returns every partial recorded for
// finalOutput, for coalescing once a JUICE job completes.
func (j *JobState) TakeReducePartials(finalOutput string) []string {
	j.reduceMu.Lock()
	defer j.reduceMu.Unlock()
	out := j.reduceOutputs[finalOutput]
	delete(j.reduceOutputs, finalOutput)
	return out
}
