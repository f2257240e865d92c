package revdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "revsync.lock"
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// dirLock holds an OS file lock on the data dir for the life of a DB. The
// OS drops the lock if the process dies.
type dirLock struct {
	path string
	file *os.File
}

func newDirLock(dataDir string) *dirLock {
	return &dirLock{path: filepath.Join(dataDir, lockFileName)}
}

// acquire retries with capped exponential backoff until timeout.
func (l *dirLock) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.writeOwner()
			return nil
		}
		if time.Now().After(deadline) {
			owner := l.readOwner()
			l.file.Close()
			l.file = nil
			return fmt.Errorf("data dir %s is locked (owner %s)", filepath.Dir(l.path), owner)
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *dirLock) release() {
	if l.file == nil {
		return
	}
	l.file.Truncate(0)
	l.unlock()
	l.file.Close()
	l.file = nil
}

func (l *dirLock) writeOwner() {
	l.file.Truncate(0)
	l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	l.file.Sync()
}

func (l *dirLock) readOwner() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	var pid, since string
	for line := range strings.SplitSeq(strings.TrimSpace(string(data)), "\n") {
		if v, ok := strings.CutPrefix(line, "pid:"); ok {
			pid = v
		} else if v, ok := strings.CutPrefix(line, "time:"); ok {
			since = v
		}
	}
	if pid == "" {
		return "unknown"
	}
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		return fmt.Sprintf("pid %s since %s, stale", pid, since)
	}
	return fmt.Sprintf("pid %s since %s", pid, since)
}
