// Package logger routes the standard logger to stdout plus a size-capped
// rotating file. Rolled files carry the rotation timestamp in their name and
// the oldest are pruned so the directory never accumulates unbounded logs.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rotator is an io.Writer that rolls the log file over once it grows past
// MaxSize bytes.
type Rotator struct {
	Filename   string
	MaxSize    int64 // bytes
	MaxBackups int

	now  func() time.Time
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotator builds a rotator; the file is opened lazily on first write.
func NewRotator(filename string, maxSize int64, maxBackups int) *Rotator {
	return &Rotator{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		now:        time.Now,
	}
}

// Setup points the standard logger at stdout plus the rotating file.
func Setup(filename string, maxSizeMB int64, maxBackups int) {
	rotator := NewRotator(filename, maxSizeMB*1024*1024, maxBackups)

	if err := rotator.openExistingOrNew(); err != nil {
		log.Printf("Failed to open log file, using stdout only: %v", err)
		return
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func (r *Rotator) openExistingOrNew() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.openNew()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) openNew() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

// Write satisfies io.Writer, rotating first when the line would push the file
// past the size cap.
func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err = r.openExistingOrNew(); err != nil {
			return 0, err
		}
	}

	if r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			// Keep writing into the current file rather than losing the line.
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
			if r.file == nil {
				if err := r.openExistingOrNew(); err != nil {
					return 0, err
				}
			}
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate renames the current file to a timestamped backup, prunes backups
// beyond MaxBackups, and opens a fresh file.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	if _, err := os.Stat(r.Filename); err == nil {
		if err := os.Rename(r.Filename, r.backupName()); err != nil {
			return err
		}
	}
	r.prune()

	return r.openNew()
}

// backupName stamps the rotation moment into the file name, e.g.
// "watch.log" -> "watch-20260901T120000.000.log".
func (r *Rotator) backupName() string {
	ext := filepath.Ext(r.Filename)
	base := strings.TrimSuffix(r.Filename, ext)
	return fmt.Sprintf("%s-%s%s", base, r.now().Format("20060102T150405.000"), ext)
}

// prune removes the oldest backups until at most MaxBackups remain. Backup
// names sort lexicographically in rotation order.
func (r *Rotator) prune() {
	ext := filepath.Ext(r.Filename)
	base := strings.TrimSuffix(r.Filename, ext)
	backups, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return
	}
	sort.Strings(backups)
	for len(backups) > r.MaxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}
