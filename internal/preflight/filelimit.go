package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the lowest usable NOFILE soft limit. Watch mode
// holds one descriptor per watched directory, so low limits bite on large
// trees.
const MinFileDescriptors = 1024

// CheckFileDescriptors verifies the process file descriptor limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", lim.Cur, MinFileDescriptors)
	if lim.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
	} else {
		result.Status = StatusPass
	}
	return result
}
