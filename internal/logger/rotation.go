package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102T150405.000"

// RotateOptions controls when a RotatingFile rolls over and what it keeps.
type RotateOptions struct {
	MaxBytes int64         // roll over before a write would exceed this
	MaxAge   time.Duration // delete backups older than this; 0 keeps all
	Compress bool          // gzip backups

	now func() time.Time
}

// RotatingFile is an append-only log file that renames itself to
// <path>.<timestamp> once it grows past MaxBytes. Safe for concurrent use.
type RotatingFile struct {
	path string
	opts RotateOptions

	mu   sync.Mutex
	f    *os.File
	size int64
	// compressions still running, waited on by Close
	pending sync.WaitGroup
}

// NewRotatingFile opens path for appending.
func NewRotatingFile(path string, opts RotateOptions) (*RotatingFile, error) {
	if opts.MaxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive")
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	rf := &RotatingFile{path: path, opts: opts}
	if err := rf.open(); err != nil {
		return nil, err
	}
	rf.prune()
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.f = f
	rf.size = info.Size()
	return nil
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return 0, os.ErrClosed
	}
	// An empty file always takes the write, even one larger than MaxBytes.
	if rf.size > 0 && rf.size+int64(len(p)) > rf.opts.MaxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

// rotate must be called with mu held.
func (rf *RotatingFile) rotate() error {
	if err := rf.f.Close(); err != nil {
		return err
	}
	rf.f = nil

	backup := rf.path + "." + rf.opts.now().UTC().Format(backupTimeFormat)
	if err := os.Rename(rf.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := rf.open(); err != nil {
		return err
	}

	if rf.opts.Compress {
		rf.pending.Add(1)
		go func() {
			defer rf.pending.Done()
			_ = gzipFile(backup)
		}()
	}
	rf.prune()
	return nil
}

// Backups lists rotated files for this log, oldest first.
func (rf *RotatingFile) Backups() ([]string, error) {
	matches, err := filepath.Glob(rf.path + ".*")
	if err != nil {
		return nil, err
	}
	// Timestamps sort lexically; drop in-flight gzip temp files.
	out := matches[:0]
	for _, m := range matches {
		if !strings.HasSuffix(m, ".tmp") {
			out = append(out, m)
		}
	}
	return out, nil
}

// prune deletes backups whose rotation time is older than MaxAge.
func (rf *RotatingFile) prune() {
	if rf.opts.MaxAge <= 0 {
		return
	}
	backups, err := rf.Backups()
	if err != nil {
		return
	}
	cutoff := rf.opts.now().Add(-rf.opts.MaxAge)
	for _, b := range backups {
		stamp := strings.TrimSuffix(strings.TrimPrefix(b, rf.path+"."), ".gz")
		t, err := time.Parse(backupTimeFormat, stamp)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			_ = os.Remove(b)
		}
	}
}

// Close closes the file and waits for pending compressions.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	var err error
	if rf.f != nil {
		err = rf.f.Close()
		rf.f = nil
	}
	rf.mu.Unlock()

	rf.pending.Wait()
	return err
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := path + ".gz.tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}
