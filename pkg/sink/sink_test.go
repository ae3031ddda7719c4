package sink

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(socket int) Record {
	return Record{
		Time:              time.Unix(1700000000, 0).UTC(),
		Socket:            socket,
		DurationSec:       1.0,
		NumProc:           2,
		NumThreads:        3,
		PkgCreditFrac:     0.5,
		TotalPkgJoules:    10,
		AscribedPkgJoules: 5,
	}
}

func TestCSVSink_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSVSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Write(testRecord(0)))
	require.NoError(t, s.Write(testRecord(1)))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 records
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "0", rows[1][1])
	assert.Equal(t, "1", rows[2][1])
}

func TestCSVSink_AppendsWithoutDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s1, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s1.Write(testRecord(0)))
	require.NoError(t, s1.Close())

	s2, err := NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s2.Write(testRecord(1)))
	require.NoError(t, s2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCSVSink_FlushesAtBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSVSink(path)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < flushBatchSize; i++ {
		require.NoError(t, s.Write(testRecord(0)))
	}
	s.wg.Wait()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, flushBatchSize+1)
}

func TestJSONSink_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := NewJSONSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Write(testRecord(0)))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var rec jsonRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, 0, rec.Socket)
	assert.Equal(t, 10.0, rec.TotalPkgJoules)
}
