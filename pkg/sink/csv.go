package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// flushBatchSize is the buffered-record count at which an async flush is
// triggered (the engine's own Close always flushes regardless of count).
const flushBatchSize = 100

var csvHeader = []string{
	"time", "socket", "duration_sec", "num_proc", "num_threads",
	"pkg_credit_frac", "dram_credit_frac", "total_pkg_joules", "total_dram_joules",
	"base_pkg_joules", "base_dram_joules", "ascribed_pkg_joules", "ascribed_dram_joules",
	"tracer_pkg_joules", "tracer_dram_joules", "pkg_percent", "dram_percent",
}

// CSVSink appends Records as CSV rows to a file, batching writes and
// flushing them on a background goroutine.
type CSVSink struct {
	bufMu sync.Mutex
	buf   []Record

	ioMu sync.Mutex
	f    *os.File
	w    *csv.Writer

	wg sync.WaitGroup
}

// NewCSVSink opens (or creates) path and writes a header row if the file is
// new/empty.
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: mkdir %s: %w", dir, err)
		}
	}

	info, statErr := os.Stat(path)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("sink: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVSink{f: f, w: w}, nil
}

// Write buffers rec, triggering an asynchronous flush once the buffer
// reaches flushBatchSize.
func (s *CSVSink) Write(rec Record) error {
	s.bufMu.Lock()
	s.buf = append(s.buf, rec)
	shouldFlush := len(s.buf) >= flushBatchSize
	s.bufMu.Unlock()

	if shouldFlush {
		s.flushAsync()
	}
	return nil
}

func (s *CSVSink) flushAsync() {
	s.bufMu.Lock()
	if len(s.buf) == 0 {
		s.bufMu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.bufMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ioMu.Lock()
		defer s.ioMu.Unlock()
		for _, rec := range batch {
			_ = s.w.Write(recordRow(rec))
		}
		s.w.Flush()
	}()
}

// Close flushes any buffered records and blocks until that flush (and any
// still in flight) has completed before closing the file, so no record is
// ever silently dropped.
func (s *CSVSink) Close() error {
	s.flushAsync()
	s.wg.Wait()

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.f.Close()
}

func recordRow(r Record) []string {
	f := strconv.FormatFloat
	return []string{
		r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		strconv.Itoa(r.Socket),
		f(r.DurationSec, 'f', 6, 64),
		strconv.Itoa(r.NumProc),
		strconv.Itoa(r.NumThreads),
		f(r.PkgCreditFrac, 'f', 6, 64),
		f(r.DramCreditFrac, 'f', 6, 64),
		f(r.TotalPkgJoules, 'f', 6, 64),
		f(r.TotalDramJoules, 'f', 6, 64),
		f(r.BasePkgJoules, 'f', 6, 64),
		f(r.BaseDramJoules, 'f', 6, 64),
		f(r.AscribedPkgJoules, 'f', 6, 64),
		f(r.AscribedDramJoules, 'f', 6, 64),
		f(r.TracerPkgJoules, 'f', 6, 64),
		f(r.TracerDramJoules, 'f', 6, 64),
		f(r.PkgPercent, 'f', 6, 64),
		f(r.DramPercent, 'f', 6, 64),
	}
}
