package media

import (
	"fmt"
	"strings"

	"lorevault/internal/storage"
)

// DefaultRelativePath is the folder of videos imported without structure.
const DefaultRelativePath = storage.DefaultRelativePath

// NormalizeRelativePath converts a folder path into its canonical form:
// forward slashes, no empty segments, no leading or trailing slash. An empty
// result collapses to DefaultRelativePath.
func NormalizeRelativePath(raw string) string {
	p := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")

	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." {
			continue
		}
		kept = append(kept, part)
	}

	if len(kept) == 0 {
		return DefaultRelativePath
	}
	return strings.Join(kept, "/")
}

// FolderFromFilePath drops the trailing file name from a picker-style path
// such as "Course/Week 1/intro.mp4" and normalizes what remains.
func FolderFromFilePath(filePath, name string) string {
	p := strings.ReplaceAll(filePath, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		if last := p[i+1:]; last == name || name == "" {
			p = p[:i]
		}
	} else if p == name {
		p = ""
	}
	return NormalizeRelativePath(p)
}

// VideoID is the primary key of a video: the normalized folder plus
// name, size and modification time.
func VideoID(relativePath, name string, size, lastModifiedMs int64) string {
	return NormalizeRelativePath(relativePath) + "/" + LegacyVideoID(name, size, lastModifiedMs)
}

// LegacyVideoID is the path-less key used before ids were path qualified.
// It is only consulted when checking for duplicates.
func LegacyVideoID(name string, size, lastModifiedMs int64) string {
	return fmt.Sprintf("%s-%d-%d", name, size, lastModifiedMs)
}
