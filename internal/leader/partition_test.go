package leader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionLinesEvenSplit(t *testing.T) {
	ranges := PartitionLines(10, 5)
	require.Len(t, ranges, 5)
	require.Equal(t, LineRange{Start: 1, End: 2}, ranges[0])
	require.Equal(t, LineRange{Start: 9, End: 10}, ranges[4])
}

func TestPartitionLinesLastTaskAbsorbsRemainder(t *testing.T) {
	ranges := PartitionLines(11, 3)
	require.Len(t, ranges, 3)
	require.Equal(t, LineRange{Start: 1, End: 3}, ranges[0])
	require.Equal(t, LineRange{Start: 4, End: 6}, ranges[1])
	require.Equal(t, LineRange{Start: 7, End: 11}, ranges[2])
}

func TestPartitionKeysEvenSplit(t *testing.T) {
	keys := []string{"a", "b", "c", "d"}
	parts := PartitionKeys(keys, 2)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, parts)
}

func TestPartitionKeysCapsAtKeyCount(t *testing.T) {
	keys := []string{"a", "b"}
	parts := PartitionKeys(keys, 5)
	require.Len(t, parts, 2)
}

func TestPartitionKeysLastTaskAbsorbsRemainder(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	parts := PartitionKeys(keys, 2)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d", "e"}}, parts)
}

func TestValidateLineCountSubtractsHeader(t *testing.T) {
	n, err := ValidateLineCount(11)
	require.NoError(t, err)
	require.Equal(t, 10, n)
}

func TestValidateLineCountErrorsOnHeaderOnly(t *testing.T) {
	_, err := ValidateLineCount(1)
	require.Error(t, err)
}

func TestValidateLineCountErrorsOnEmptyFile(t *testing.T) {
	_, err := ValidateLineCount(0)
	require.Error(t, err)
}
