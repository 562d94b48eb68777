package media

import "testing"

func TestNormalizeRelativePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Folder\\Sub\\", "Folder/Sub"},
		{"/Folder/Sub/", "Folder/Sub"},
		{"Folder/Sub", "Folder/Sub"},
		{"Folder//Sub", "Folder/Sub"},
		{" Folder / Sub ", "Folder/Sub"},
		{"./Folder", "Folder"},
		{"", DefaultRelativePath},
		{"/", DefaultRelativePath},
		{"\\\\", DefaultRelativePath},
		{".", DefaultRelativePath},
	}

	for _, tt := range tests {
		if got := NormalizeRelativePath(tt.in); got != tt.want {
			t.Errorf("NormalizeRelativePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFolderFromFilePath(t *testing.T) {
	tests := []struct {
		path string
		name string
		want string
	}{
		{"Course/Week 1/intro.mp4", "intro.mp4", "Course/Week 1"},
		{"Course\\intro.mp4", "intro.mp4", "Course"},
		{"intro.mp4", "intro.mp4", DefaultRelativePath},
		{"Course/Week 1", "intro.mp4", "Course/Week 1"},
		{"", "intro.mp4", DefaultRelativePath},
	}

	for _, tt := range tests {
		if got := FolderFromFilePath(tt.path, tt.name); got != tt.want {
			t.Errorf("FolderFromFilePath(%q, %q) = %q, want %q", tt.path, tt.name, got, tt.want)
		}
	}
}

func TestVideoID(t *testing.T) {
	if got, want := VideoID("/Folder\\Sub/", "a.mp4", 10, 20), "Folder/Sub/a.mp4-10-20"; got != want {
		t.Errorf("VideoID = %q, want %q", got, want)
	}
	if got, want := VideoID("", "a.mp4", 10, 20), "unfiled/a.mp4-10-20"; got != want {
		t.Errorf("VideoID(no folder) = %q, want %q", got, want)
	}
	if got, want := LegacyVideoID("a.mp4", 10, 20), "a.mp4-10-20"; got != want {
		t.Errorf("LegacyVideoID = %q, want %q", got, want)
	}

	// Equivalent spellings of a folder give the same id.
	a := VideoID("Folder\\Sub\\", "a.mp4", 1, 2)
	b := VideoID("/Folder/Sub/", "a.mp4", 1, 2)
	if a != b {
		t.Errorf("ids differ for equivalent folders: %q vs %q", a, b)
	}
}

func TestIsVideoMime(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"video/mp4", true},
		{"Video/WebM", true},
		{" video/x-matroska", true},
		{"text/plain; charset=utf-8", false},
		{"application/octet-stream", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsVideoMime(tt.mime); got != tt.want {
			t.Errorf("IsVideoMime(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}
}

func TestGetContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":  "video/mp4",
		"A.MKV":  "video/x-matroska",
		"b.webm": "video/webm",
		"c.mov":  "video/quicktime",
		"d.bin":  "application/octet-stream",
	}
	for name, want := range tests {
		if got := GetContentType(name); got != want {
			t.Errorf("GetContentType(%q) = %q, want %q", name, got, want)
		}
	}
	if !IsSupportedVideo("clip.M4V") || IsSupportedVideo("notes.txt") {
		t.Error("IsSupportedVideo misclassifies extensions")
	}
}
