package preflight

import (
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the free space floor (100MB): enough for the metadata
// database plus index snapshots of a mid-sized project.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace verifies free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := fs.Bavail * uint64(fs.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: 100 MB)", formatBytes(free))
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
	} else {
		result.Status = StatusPass
	}
	return result
}

// formatBytes renders a byte count in the largest fitting unit.
func formatBytes(n uint64) string {
	units := []struct {
		size uint64
		name string
	}{
		{1 << 40, "TB"},
		{1 << 30, "GB"},
		{1 << 20, "MB"},
		{1 << 10, "KB"},
	}
	for _, u := range units {
		if n >= u.size {
			return fmt.Sprintf("%.1f %s", float64(n)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d bytes", n)
}
