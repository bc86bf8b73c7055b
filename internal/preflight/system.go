//go:build unix

package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/docindex/internal/ui"
)

const (
	// MinDiskSpaceBytes is the free space the data directory needs for the
	// metadata store, the vector graph and its save-time copy.
	MinDiskSpaceBytes = 256 * 1024 * 1024

	// MinFileDescriptors is the open file limit below which watching a
	// large archive fails.
	MinFileDescriptors = 1024
)

// CheckDiskSpace checks the free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", ui.FormatBytes(free), ui.FormatBytes(MinDiskSpaceBytes))
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckFileDescriptors checks the open file limit. The watcher holds one
// descriptor per watched directory on some platforms.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors"}

	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to read the limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rl.Cur, MinFileDescriptors)
	if rl.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "Raise it with 'ulimit -n 10240' or set watch.force_polling"
		return result
	}
	result.Status = StatusPass
	return result
}
