package common

import (
	"crypto/md5"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ContainerID derives a stable 8-hex-char instance identifier from the
// hostname. Worker identities built from it survive restarts on the
// same host while staying distinct across hosts, which matters because
// worker ids are written into shared database rows.
func ContainerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	sum := md5.Sum([]byte(hostname))
	return fmt.Sprintf("%x", sum)[:8]
}

// BrowserWorkerID returns the identity of the n-th browser worker,
// e.g. "3f2a9c1d_1".
func BrowserWorkerID(n int) string {
	return fmt.Sprintf("%s_%d", ContainerID(), n)
}

// ValidationWorkerID returns the identity of the n-th validation
// worker, e.g. "3f2a9c1d_V1".
func ValidationWorkerID(n int) string {
	return fmt.Sprintf("%s_V%d", ContainerID(), n)
}

// NewRunID generates a unique id for one service run, used to correlate
// log lines across workers.
func NewRunID() string {
	return "run_" + uuid.New().String()
}
