// Package archive keeps a compressed JSONL record of every finished queue
// session under <dataDir>/sessions.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const filePrefix = "sessions"

// SessionRecord is one archived session.
type SessionRecord struct {
	ID            string    `json:"id"`
	Agent         string    `json:"agent"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	DurationMS    int64     `json:"duration_ms"`
	Answered      int       `json:"answered"`
	Reason        string    `json:"reason"`
	FinalPosition string    `json:"final_position,omitempty"`
}

// SessionLogger appends SessionRecords to one zstd JSONL file per UTC day,
// keyed by the day the session ended. Every record is flushed as its own
// block; reopening a day appends a new frame.
type SessionLogger struct {
	dir string

	mu  sync.Mutex
	day string
	f   *os.File
	zw  *zstd.Encoder
	enc *json.Encoder
}

func NewSessionLogger(dataDir string) *SessionLogger {
	return &SessionLogger{dir: Dir(dataDir)}
}

func (l *SessionLogger) WriteSession(r SessionRecord) error {
	at := r.EndedAt
	if at.IsZero() {
		at = time.Now()
	}
	day := at.UTC().Format(dayLayout)

	l.mu.Lock()
	defer l.mu.Unlock()
	if day != l.day {
		if err := l.openDayLocked(day); err != nil {
			return err
		}
	}
	if err := l.enc.Encode(r); err != nil {
		return fmt.Errorf("archive session %s: %w", r.ID, err)
	}
	return l.zw.Flush()
}

func (l *SessionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *SessionLogger) openDayLocked(day string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dayFile(l.dir, day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.zw, l.enc, l.day = f, zw, json.NewEncoder(zw), day
	return nil
}

func (l *SessionLogger) closeLocked() error {
	var err error
	if l.zw != nil {
		err = l.zw.Close()
	}
	if l.f != nil {
		if cerr := l.f.Close(); err == nil {
			err = cerr
		}
	}
	l.f, l.zw, l.enc, l.day = nil, nil, nil, ""
	return err
}

const dayLayout = "2006-01-02"

func dayFile(dir, day string) string {
	return filepath.Join(dir, filePrefix+"-"+day+".jsonl.zst")
}

func Dir(dataDir string) string { return filepath.Join(dataDir, "sessions") }

// Files lists the archive files of dataDir, oldest first.
func Files(dataDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(Dir(dataDir), filePrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadRecords decodes every record of one archive file in write order.
func ReadRecords(path string) ([]SessionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []SessionRecord
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r SessionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return out, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// ReadAll reads every archive file of dataDir.
func ReadAll(dataDir string) ([]SessionRecord, error) {
	files, err := Files(dataDir)
	if err != nil {
		return nil, err
	}
	var out []SessionRecord
	for _, p := range files {
		recs, err := ReadRecords(p)
		if err != nil {
			return out, err
		}
		out = append(out, recs...)
	}
	return out, nil
}
