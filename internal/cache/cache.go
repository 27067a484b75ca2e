// Package cache keeps verifier verdicts in Redis so unchanged files are not
// re-parsed on the next run.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Key identifies a file by path, size and modification time.
func Key(path string, size int64, modTime time.Time) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", path, size, modTime.UnixNano())))
	return hex.EncodeToString(sum[:])
}
