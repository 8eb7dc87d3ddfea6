package hdiutil

import "strings"

// parseCreated extracts the image path from `hdiutil create` output
// ("created: /private/tmp/lab.sparseimage").
func parseCreated(out string) string {
	const marker = "created:"
	for _, line := range strings.Split(out, "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		return strings.TrimSpace(line[idx+len(marker):])
	}
	return ""
}

// parseAttached returns the device of the mounted volume from `hdiutil attach`
// output. Volume lines have three tab-separated columns with a mount point in the last;
// the last such line wins.
func parseAttached(out string) string {
	disk := ""
	for _, line := range strings.Split(out, "\n") {
		columns := strings.Split(line, "\t")
		if len(columns) == 3 && strings.TrimSpace(columns[2]) != "" {
			disk = strings.TrimSpace(columns[0])
		}
	}
	return disk
}

// parseMountTable finds the mount point of disk in `mount` output, e.g.
// "/dev/disk2s2 on /Volumes/Install (13C64) (hfs, local, journaled)".
func parseMountTable(out, disk string) string {
	prefix := disk + " on "
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimPrefix(line, prefix)
		if idx := strings.LastIndex(rest, " ("); idx >= 0 {
			rest = rest[:idx]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}
