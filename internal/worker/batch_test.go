package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamRangeInBatchesRespectsLineRangeAndBatchSize(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.csv")
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, "line")
		_ = i
	}
	require.NoError(t, os.WriteFile(srcPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	var batchCount int
	var totalLinesSeen int
	process := func(inputPath, outputPath string) error {
		batchCount++
		data, err := os.ReadFile(inputPath)
		require.NoError(t, err)
		totalLinesSeen += len(strings.Split(strings.TrimRight(string(data), "\n"), "\n"))
		return os.WriteFile(outputPath, data, 0o644)
	}

	sinkPath := filepath.Join(dir, "sink")
	err := streamRangeInBatches(srcPath, 3, 8, 2, dir, sinkPath, process)
	require.NoError(t, err)
	require.Equal(t, 3, batchCount) // lines 3-8 = 6 lines, batch size 2 -> 3 batches
	require.Equal(t, 6, totalLinesSeen)
}

func TestSanitizeKeyReplacesSlash(t *testing.T) {
	require.Equal(t, "a_b_c", sanitizeKey("a/b/c"))
	require.Equal(t, "plain", sanitizeKey("plain"))
}

func TestSplitByKeyGroupsLinesPerKey(t *testing.T) {
	dir := t.TempDir()
	sinkPath := filepath.Join(dir, "sorted_sink")
	content := "apple,1\napple,2\nbanana,3\n"
	require.NoError(t, os.WriteFile(sinkPath, []byte(content), 0o644))

	pairs, err := splitByKey(sinkPath, dir, func(key string) string { return "out_" + key })
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	var appleFound, bananaFound bool
	for _, p := range pairs {
		data, err := os.ReadFile(p.Path)
		require.NoError(t, err)
		switch p.Key {
		case "apple":
			appleFound = true
			require.Equal(t, "apple,1\napple,2\n", string(data))
		case "banana":
			bananaFound = true
			require.Equal(t, "banana,3\n", string(data))
		}
	}
	require.True(t, appleFound)
	require.True(t, bananaFound)
}

func TestSortFileByKeySortsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unsorted")
	require.NoError(t, os.WriteFile(path, []byte("zebra,1\napple,2\nmango,3\n"), 0o644))

	require.NoError(t, sortFileByKey(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "apple,2\nmango,3\nzebra,1\n", string(data))
}
