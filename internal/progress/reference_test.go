package progress

import (
	"strings"
	"testing"

	"lorevault/internal/storage"
)

func TestParseReference(t *testing.T) {
	digest := strings.Repeat("ab", 32)

	tests := []struct {
		in      string
		tier    Tier
		wantErr bool
	}{
		{"v2:sha256:" + digest, TierStrong, false},
		{"v2:meta:handle:1024:1700000000000", TierWeak, false},
		{"v2:meta:chunks:0:0", TierWeak, false},
		{"Course/a.mp4-10-20", TierLegacy, false},
		{"a.mp4-10-20", TierLegacy, false},
		{"v2:sha256:xyz", "", true},
		{"v2:sha256:" + strings.ToUpper(digest), "", true},
		{"v2:meta:tape:1:2", "", true},
		{"v2:meta:blob:1", "", true},
		{"v2:meta:blob:one:2", "", true},
		{"v2:crc32:abcd", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		ref, err := ParseReference(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseReference(%q) = %+v, want error", tt.in, ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseReference(%q): %v", tt.in, err)
			continue
		}
		if ref.Tier != tt.tier || ref.Value != tt.in {
			t.Errorf("ParseReference(%q) = %+v, want tier %s", tt.in, ref, tt.tier)
		}
	}
}

func TestWeakReferenceFormat(t *testing.T) {
	ref := weakReference(storage.Video{StorageKind: storage.StorageHandle, SizeBytes: 1024, LastModifiedMs: 1700000000000})
	if ref.Value != "v2:meta:handle:1024:1700000000000" || ref.Tier != TierWeak {
		t.Fatalf("weak reference = %+v", ref)
	}
	if parsed, err := ParseReference(ref.Value); err != nil || parsed != ref {
		t.Fatalf("weak reference does not parse back: %+v, %v", parsed, err)
	}
}

func TestSampleRegions(t *testing.T) {
	tests := []struct {
		size, window int64
		want         [][2]int64
	}{
		{10, 4, [][2]int64{{0, 4}, {3, 4}, {6, 4}}},
		{3, 4, [][2]int64{{0, 3}, {0, 3}, {0, 3}}},
		{1 << 20, 64 << 10, [][2]int64{{0, 64 << 10}, {480 << 10, 64 << 10}, {960 << 10, 64 << 10}}},
		{0, 4, nil},
	}
	for _, tt := range tests {
		got := sampleRegions(tt.size, tt.window)
		if len(got) != len(tt.want) {
			t.Errorf("sampleRegions(%d, %d) = %v, want %v", tt.size, tt.window, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("sampleRegions(%d, %d) = %v, want %v", tt.size, tt.window, got, tt.want)
				break
			}
		}
	}
}
