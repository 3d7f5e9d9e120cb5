package csvlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCreateClaimsLowestNumber(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()

	l, err := Create(dir, 200*time.Millisecond)
	require.NoError(err)
	assert.Equal(filepath.Join(dir, "ping1.csv"), l.Path())
	require.NoError(l.Close())

	l, err = Create(dir, 200*time.Millisecond)
	require.NoError(err)
	assert.Equal(filepath.Join(dir, "ping2.csv"), l.Path())
	require.NoError(l.Close())
}

func TestCreateSkipsExistingFiles(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	older := []byte("timestamp,endpoint,rtt_ms\n0.000,example.com,12.000\n")
	require.NoError(os.WriteFile(filepath.Join(dir, "ping1.csv"), older, 0o644))
	require.NoError(os.WriteFile(filepath.Join(dir, "ping2.csv"), older, 0o644))

	l, err := Create(dir, 200*time.Millisecond)
	require.NoError(err)
	defer l.Close()

	assert.Equal(filepath.Join(dir, "ping3.csv"), l.Path())

	// earlier runs stay untouched
	for _, name := range []string{"ping1.csv", "ping2.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(err)
		assert.Equal(older, data)
	}
}

func TestRecordRows(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	l, err := Create(dir, 200*time.Millisecond)
	require.NoError(err)

	l.Record(0, "example.com", 12340*time.Microsecond, false)
	l.Record(1, "example.com", 15*time.Millisecond, false)
	l.Record(2, "example.com", 0, true)
	l.Record(3, "example.com/hop1", 1500*time.Microsecond, false)
	require.NoError(l.Close())

	rows := readRows(t, l.Path())
	require.Len(rows, 5)

	assert.Equal([]string{"timestamp", "endpoint", "rtt_ms"}, rows[0])
	assert.Equal([]string{"0.000", "example.com", "12.340"}, rows[1])
	assert.Equal([]string{"0.200", "example.com", "15.000"}, rows[2])
	assert.Equal([]string{"0.400", "example.com", "1000"}, rows[3])
	assert.Equal([]string{"0.600", "example.com/hop1", "1.500"}, rows[4])
}

func TestTimestampQuantization(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	l, err := Create(dir, 200*time.Millisecond)
	require.NoError(err)

	for tick := int64(0); tick < 10; tick++ {
		l.Record(tick, "example.com", 10*time.Millisecond, false)
	}
	require.NoError(l.Close())

	rows := readRows(t, l.Path())
	require.Len(rows, 11)

	// consecutive rows differ by exactly the interval
	for i, want := range []string{
		"0.000", "0.200", "0.400", "0.600", "0.800",
		"1.000", "1.200", "1.400", "1.600", "1.800",
	} {
		assert.Equal(want, rows[i+1][0])
	}
}

func TestRecordAfterFailure(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	l, err := Create(dir, 200*time.Millisecond)
	require.NoError(err)

	// yank the file away; the logger must go quiet, not panic
	require.NoError(l.file.Close())

	l.Record(0, "example.com", time.Millisecond, false)
	l.Record(1, "example.com", time.Millisecond, false)
	assert.True(t, l.failed)
}

func TestNilLogger(t *testing.T) {
	var l *Logger

	// a run without persistence must not blow up
	l.Record(0, "example.com", time.Millisecond, false)
	assert.Empty(t, l.Path())
	assert.NoError(t, l.Close())
}

func TestCreateBadDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing"), 200*time.Millisecond)
	assert.Error(t, err)
}
