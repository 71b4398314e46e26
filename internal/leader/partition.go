package leader

import "fmt"

// LineRange is a 1-based inclusive task assignment over a source file's
// lines.
type LineRange struct {
	Start, End int
}

// PartitionLines range-partitions L lines across N tasks, spec.md §4.6:
// "task i covers lines [i*S+1, (i+1)*S] where S = floor(L/N), with the last
// task absorbing the remainder."
func PartitionLines(totalLines, n int) []LineRange {
	s := totalLines / n
	out := make([]LineRange, n)
	for i := 0; i < n; i++ {
		start := i*s + 1
		end := (i + 1) * s
		if i == n-1 {
			end = totalLines
		}
		out[i] = LineRange{Start: start, End: end}
	}
	return out
}

// PartitionKeys range-partitions a key list across up to n tasks, spec.md
// §4.6's JUICE rule: at least 1 key per task, the last worker absorbs the
// remainder, and if n exceeds the number of keys only as many tasks as
// there are keys are produced.
func PartitionKeys(keys []string, n int) [][]string {
	if n > len(keys) {
		n = len(keys)
	}
	if n == 0 {
		return nil
	}
	taskSize := len(keys) / n
	if taskSize < 1 {
		taskSize = 1
	}
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		start := i * taskSize
		if start+1 > len(keys) {
			break
		}
		end := start + taskSize
		if i == n-1 || end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}

// ValidateLineCount applies spec.md §4.6 step 3's CSV-schema-row rule:
// subtract 1 for the header, error on empty.
func ValidateLineCount(rawLines int) (int, error) {
	l := rawLines - 1
	if l <= 0 {
		return 0, fmt.Errorf("leader: source file has no data rows after the header")
	}
	return l, nil
}
