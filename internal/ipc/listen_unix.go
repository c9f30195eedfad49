//go:build unix

package ipc

import (
	"net"
	"sync"
	"syscall"
)

var umaskMu sync.Mutex

// listenUnix creates the socket with a user-only umask so it is never
// reachable by other users, not even before the chmod that follows.
func listenUnix(path string) (net.Listener, error) {
	umaskMu.Lock()
	defer umaskMu.Unlock()

	old := syscall.Umask(0o177)
	defer syscall.Umask(old)
	return net.Listen("unix", path)
}
