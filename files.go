/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// atlasFilesSize sums the volume and dictionary files belonging to ids.
// A compressed volume shadows a plain one of the same id.
func atlasFilesSize(dir string, ids []string) int64 {
	size := func(name string) int64 {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return 0
		}
		return info.Size()
	}

	var total int64
	for _, id := range ids {
		vol := size(id + ".nii.gz")
		if vol == 0 {
			vol = size(id + ".nii")
		}
		total += vol + size(id+".json")
	}

	return total
}
