package evidence

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "evidence.log")
	idxPath := filepath.Join(dir, "evidence.idx")
	l, err := Open(dataPath, idxPath)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, dataPath
}

func TestAppendAssignsSequentialChainedHashes(t *testing.T) {
	l, _ := openTestLog(t)

	e1, err := l.Append("round_started", 1, "", 1000, map[string]int{"quorum": 3})
	require.NoError(t, err)
	require.Equal(t, uint64(0), e1.Sequence)
	require.Equal(t, genesisHash, e1.PrevHash)

	e2, err := l.Append("package_received", 1, "worker-1", 1001, map[string]string{"key_id": "k1"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e2.Sequence)
	require.Equal(t, e1.ChainHash, e2.PrevHash)
	require.NotEqual(t, e1.ChainHash, e2.ChainHash)
}

func TestVerifyChainDetectsNoTamperOnCleanLog(t *testing.T) {
	l, dataPath := openTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := l.Append("event", uint64(i), "", int64(i), map[string]int{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	mismatches, err := VerifyChain(bytes.NewReader(data))
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	l, dataPath := openTestLog(t)
	for i := 0; i < 3; i++ {
		_, err := l.Append("event", uint64(i), "", int64(i), map[string]int{"i": i})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"i":1`), []byte(`"i":9`), 1)
	require.NotEqual(t, data, tampered, "test fixture must actually mutate a payload byte")

	mismatches, err := VerifyChain(bytes.NewReader(tampered))
	require.NoError(t, err)
	require.NotEmpty(t, mismatches)
}

func TestAppendPersistsTimestamp(t *testing.T) {
	l, _ := openTestLog(t)
	e1, err := l.Append("round_started", 1, "", 1700000000123, map[string]int{"quorum": 3})
	require.NoError(t, err)
	require.Equal(t, int64(1700000000123), e1.TimestampMs)

	got, err := l.Query(e1.Sequence)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000123), got.TimestampMs, "persisted event must carry the real timestamp, not a zero value")

	e2, err := l.Append("round_started", 1, "", 1700000000999, map[string]int{"quorum": 3})
	require.NoError(t, err)
	require.NotEqual(t, e1.EventHash, e2.EventHash, "event hash must commit to the timestamp, not just the payload")
}

func TestQueryBySequence(t *testing.T) {
	l, _ := openTestLog(t)
	_, err := l.Append("a", 1, "", 1, map[string]int{"x": 1})
	require.NoError(t, err)
	ev2, err := l.Append("b", 2, "worker-2", 2, map[string]int{"x": 2})
	require.NoError(t, err)

	got, err := l.Query(1)
	require.NoError(t, err)
	require.Equal(t, ev2.EventHash, got.EventHash)
	require.Equal(t, "b", got.EventType)
}

func TestQueryByType(t *testing.T) {
	l, _ := openTestLog(t)
	_, err := l.Append("round_started", 1, "", 1, nil)
	require.NoError(t, err)
	_, err = l.Append("package_received", 1, "worker-1", 2, nil)
	require.NoError(t, err)
	_, err = l.Append("package_received", 1, "worker-2", 3, nil)
	require.NoError(t, err)

	got, err := l.QueryByType("package_received")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestReopenRecoversChainTip(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "evidence.log")
	idxPath := filepath.Join(dir, "evidence.idx")

	l1, err := Open(dataPath, idxPath)
	require.NoError(t, err)
	last, err := l1.Append("event", 1, "", 1, map[string]int{"x": 1})
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(dataPath, idxPath)
	require.NoError(t, err)
	t.Cleanup(func() { l2.Close() })

	next, err := l2.Append("event", 2, "", 2, map[string]int{"x": 2})
	require.NoError(t, err)
	require.Equal(t, last.Sequence+1, next.Sequence)
	require.Equal(t, last.ChainHash, next.PrevHash)
}
