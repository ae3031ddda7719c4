package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// jsonRecord mirrors Record with JSON-friendly field names matching the CSV
// column names in spirit.
type jsonRecord struct {
	Time               string  `json:"time"`
	Socket             int     `json:"socket"`
	DurationSec        float64 `json:"duration_sec"`
	NumProc            int     `json:"num_proc"`
	NumThreads         int     `json:"num_threads"`
	PkgCreditFrac      float64 `json:"pkg_credit_frac"`
	DramCreditFrac     float64 `json:"dram_credit_frac"`
	TotalPkgJoules     float64 `json:"total_pkg_joules"`
	TotalDramJoules    float64 `json:"total_dram_joules"`
	BasePkgJoules      float64 `json:"base_pkg_joules"`
	BaseDramJoules     float64 `json:"base_dram_joules"`
	AscribedPkgJoules  float64 `json:"ascribed_pkg_joules"`
	AscribedDramJoules float64 `json:"ascribed_dram_joules"`
	TracerPkgJoules    float64 `json:"tracer_pkg_joules"`
	TracerDramJoules   float64 `json:"tracer_dram_joules"`
	PkgPercent         float64 `json:"pkg_percent"`
	DramPercent        float64 `json:"dram_percent"`
}

// JSONSink appends Records as newline-delimited JSON objects, batching
// writes the same way CSVSink does.
type JSONSink struct {
	bufMu sync.Mutex
	buf   []Record

	ioMu sync.Mutex
	f    *os.File
	enc  *json.Encoder

	wg sync.WaitGroup
}

// NewJSONSink opens (or creates, append mode) a newline-delimited JSON file
// at path.
func NewJSONSink(path string) (*JSONSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &JSONSink{f: f, enc: json.NewEncoder(f)}, nil
}

// Write buffers rec, triggering an asynchronous flush once the buffer
// reaches flushBatchSize.
func (s *JSONSink) Write(rec Record) error {
	s.bufMu.Lock()
	s.buf = append(s.buf, rec)
	shouldFlush := len(s.buf) >= flushBatchSize
	s.bufMu.Unlock()

	if shouldFlush {
		s.flushAsync()
	}
	return nil
}

func (s *JSONSink) flushAsync() {
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
			_ = s.enc.Encode(toJSONRecord(rec))
		}
	}()
}

// Close flushes any buffered records and blocks until that flush (and any
// still in flight) has completed before closing the file.
func (s *JSONSink) Close() error {
	s.flushAsync()
	s.wg.Wait()

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.f.Close()
}

func toJSONRecord(r Record) jsonRecord {
	return jsonRecord{
		Time:               r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		Socket:             r.Socket,
		DurationSec:        r.DurationSec,
		NumProc:            r.NumProc,
		NumThreads:         r.NumThreads,
		PkgCreditFrac:      r.PkgCreditFrac,
		DramCreditFrac:     r.DramCreditFrac,
		TotalPkgJoules:     r.TotalPkgJoules,
		TotalDramJoules:    r.TotalDramJoules,
		BasePkgJoules:      r.BasePkgJoules,
		BaseDramJoules:     r.BaseDramJoules,
		AscribedPkgJoules:  r.AscribedPkgJoules,
		AscribedDramJoules: r.AscribedDramJoules,
		TracerPkgJoules:    r.TracerPkgJoules,
		TracerDramJoules:   r.TracerDramJoules,
		PkgPercent:         r.PkgPercent,
		DramPercent:        r.DramPercent,
	}
}
