//go:build unix

package revdb

import (
	"os"
	"syscall"
)

func (l *dirLock) tryLock() error {
	return syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func (l *dirLock) unlock() {
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
}

func isProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
