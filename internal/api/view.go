package api

import (
	"sort"
	"strings"

	"lorevault/internal/media"
	"lorevault/internal/storage"
)

type SortOrder string

const (
	SortByName SortOrder = "name"
	SortNewest SortOrder = "newest"
)

// ViewOptions filter and order a library view.
type ViewOptions struct {
	// Query matches name or folder, case-insensitively.
	Query       string
	StorageKind storage.StorageKind
	Sort        SortOrder
}

// BuildLibraryView groups videos by folder. Folders are ordered by path with
// the default folder last.
func BuildLibraryView(name string, videos []storage.Video, opts ViewOptions) LibraryView {
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	sections := make(map[string]*FolderSection)
	total := 0
	for _, v := range videos {
		if opts.StorageKind != "" && v.StorageKind != opts.StorageKind {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(v.Name), query) &&
			!strings.Contains(strings.ToLower(v.RelativePath), query) {
			continue
		}

		p := media.NormalizeRelativePath(v.RelativePath)
		sec, ok := sections[p]
		if !ok {
			sec = &FolderSection{Path: p, Name: folderName(p)}
			sections[p] = sec
		}
		sec.Videos = append(sec.Videos, v)
		total++
	}

	folders := make([]FolderSection, 0, len(sections))
	for _, sec := range sections {
		sortVideos(sec.Videos, opts.Sort)
		folders = append(folders, *sec)
	}
	sort.Slice(folders, func(i, j int) bool {
		a, b := folders[i].Path, folders[j].Path
		if (a == media.DefaultRelativePath) != (b == media.DefaultRelativePath) {
			return b == media.DefaultRelativePath
		}
		return strings.ToLower(a) < strings.ToLower(b)
	})

	return LibraryView{
		Name:        name,
		Folders:     folders,
		Total:       total,
		FolderCount: len(folders),
	}
}

func folderName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func sortVideos(videos []storage.Video, order SortOrder) {
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		if order == SortNewest && a.CreatedAtMs != b.CreatedAtMs {
			return a.CreatedAtMs > b.CreatedAtMs
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}
