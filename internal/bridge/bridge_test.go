package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"lorevault/internal/media"
	"lorevault/internal/storage"
)

func fill(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 199)
	}
	return b
}

// newBridge serves a small tree:
//
//	Courses/go/intro.mp4
//	Courses/go/slides.pdf
//	Courses/rust/ch1.mkv
//	.hidden/secret.mp4
func newBridge(t *testing.T) (*Client, string) {
	t.Helper()
	root := t.TempDir()
	files := map[string][]byte{
		"Courses/go/intro.mp4":  fill(1000),
		"Courses/go/slides.pdf": []byte("%PDF"),
		"Courses/rust/ch1.mkv":  fill(300),
		".hidden/secret.mp4":    fill(10),
	}
	for p, data := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	srv := httptest.NewServer(NewHandler(root, zerolog.Nop()).Routes())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second), root
}

func TestList(t *testing.T) {
	client, _ := newBridge(t)

	list, err := client.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Name != "Courses" || !list.Entries[0].IsDir {
		t.Fatalf("root entries = %+v", list.Entries)
	}

	list, err = client.List(context.Background(), "Courses/go")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("entries = %+v", list.Entries)
	}
	intro := list.Entries[0]
	if intro.Name != "intro.mp4" || intro.Path != "Courses/go/intro.mp4" || intro.Size != 1000 ||
		intro.MimeType != "video/mp4" || intro.ModifiedMs == 0 {
		t.Fatalf("intro entry = %+v", intro)
	}

	var status *StatusError
	if _, err := client.List(context.Background(), "nope"); !errors.As(err, &status) || status.Status != http.StatusNotFound {
		t.Fatalf("List(missing) error = %v", err)
	}
}

func TestListCannotEscapeRoot(t *testing.T) {
	client, _ := newBridge(t)

	list, err := client.List(context.Background(), "../../..")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Path != "" || len(list.Entries) != 1 || list.Entries[0].Name != "Courses" {
		t.Fatalf("escaped root: %+v", list)
	}
}

func TestSymlinksCannotEscapeRoot(t *testing.T) {
	client, root := newBridge(t)
	ctx := context.Background()

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("TOP-SECRET"), 0o644); err != nil {
		t.Fatal(err)
	}
	links := map[string]string{
		"link":                  outside,
		"leak.mp4":              filepath.Join(outside, "secret.txt"),
		"Courses/go/alias.mp4":  filepath.Join(root, "Courses", "go", "intro.mp4"),
		"Courses/rust/back.mp4": filepath.Join(root, "..", filepath.Base(outside), "secret.txt"),
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(root, filepath.FromSlash(name))); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	var status *StatusError
	buf := make([]byte, 10)
	for _, p := range []string{"link/secret.txt", "leak.mp4", "Courses/rust/back.mp4"} {
		n, err := client.ReadRange(ctx, p, buf, 0)
		if !errors.As(err, &status) || status.Status != http.StatusNotFound {
			t.Errorf("ReadRange(%s) = %q, %v; want 404", p, buf[:n], err)
		}
	}
	if _, err := client.List(ctx, "link"); !errors.As(err, &status) || status.Status != http.StatusNotFound {
		t.Errorf("List(link) error = %v, want 404", err)
	}
	if _, err := client.Scan(ctx, "link"); !errors.As(err, &status) || status.Status != http.StatusNotFound {
		t.Errorf("Scan(link) error = %v, want 404", err)
	}

	// A link that stays inside the root is served.
	n, err := client.ReadRange(ctx, "Courses/go/alias.mp4", buf, 0)
	if err != nil || n != 10 || !bytes.Equal(buf, fill(1000)[:10]) {
		t.Fatalf("ReadRange(alias) = %d, %v", n, err)
	}

	// Listings skip links.
	list, err := client.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Name != "Courses" {
		t.Fatalf("root entries = %+v", list.Entries)
	}
}

func TestScan(t *testing.T) {
	client, _ := newBridge(t)

	scan, err := client.Scan(context.Background(), "Courses")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var paths []string
	for _, f := range scan.Files {
		paths = append(paths, f.Path)
	}
	want := []string{"Courses/go/intro.mp4", "Courses/go/slides.pdf", "Courses/rust/ch1.mkv"}
	if len(paths) != len(want) {
		t.Fatalf("scan = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("scan = %v, want %v", paths, want)
		}
	}
}

func TestReadRange(t *testing.T) {
	client, _ := newBridge(t)
	ctx := context.Background()
	want := fill(1000)

	buf := make([]byte, 100)
	n, err := client.ReadRange(ctx, "Courses/go/intro.mp4", buf, 450)
	if err != nil || n != 100 || !bytes.Equal(buf, want[450:550]) {
		t.Fatalf("ReadRange = %d, %v", n, err)
	}

	n, err = client.ReadRange(ctx, "Courses/go/intro.mp4", buf, 950)
	if err != io.EOF || n != 50 || !bytes.Equal(buf[:n], want[950:]) {
		t.Fatalf("ReadRange at tail = %d, %v", n, err)
	}

	if n, err := client.ReadRange(ctx, "Courses/go/intro.mp4", buf, 5000); err != io.EOF || n != 0 {
		t.Fatalf("ReadRange past end = %d, %v", n, err)
	}
}

func TestWalkRemoteDirectory(t *testing.T) {
	client, _ := newBridge(t)

	res, err := media.Walk(context.Background(), client.Root("/Courses/"))
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var got []string
	for _, f := range res.Videos {
		got = append(got, f.RelativePath+"/"+f.Name)
	}
	sort.Strings(got)
	want := []string{"Courses/go/intro.mp4", "Courses/rust/ch1.mkv"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("videos = %v, want %v", got, want)
	}
	if len(res.Rejected) != 1 || res.Rejected[0] != "slides.pdf" || res.Processed != 3 {
		t.Fatalf("rejected = %v, processed = %d", res.Rejected, res.Processed)
	}

	unnamed, err := media.Walk(context.Background(), client.Root(""))
	if err != nil {
		t.Fatalf("Walk(root): %v", err)
	}
	for _, f := range unnamed.Videos {
		if f.RelativePath != media.DefaultRelativePath+"/Courses/go" && f.RelativePath != media.DefaultRelativePath+"/Courses/rust" {
			t.Errorf("unexpected folder %q", f.RelativePath)
		}
	}
}

func TestLinkedRemoteFileIsReadable(t *testing.T) {
	client, _ := newBridge(t)
	ctx := context.Background()

	store := storage.NewMemoryStorage(0)
	imp := media.NewImporter(store, media.DefaultLimits(), zerolog.Nop())
	res, err := imp.ImportDirectory(ctx, client.Root("Courses/go"), true)
	if err != nil {
		t.Fatalf("ImportDirectory: %v", err)
	}
	if len(res.Added) != 1 {
		t.Fatalf("added = %+v", res.Added)
	}
	rec := res.Added[0]
	if rec.StorageKind != storage.StorageHandle || rec.HandleRef != "bridge:Courses/go/intro.mp4" {
		t.Fatalf("record = %+v", rec)
	}

	handles := media.NewHandles()
	handles.Register("bridge", client.OpenFile)
	fh, err := handles.Resolve(rec.HandleRef)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := media.EnsureReadPermission(ctx, fh); err != nil {
		t.Fatalf("EnsureReadPermission: %v", err)
	}
	info, err := fh.Stat(ctx)
	if err != nil || info.Size != 1000 {
		t.Fatalf("Stat = %+v, %v", info, err)
	}

	content, err := fh.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer content.Close()
	got, err := io.ReadAll(io.NewSectionReader(content, 0, info.Size))
	if err != nil || !bytes.Equal(got, fill(1000)) {
		t.Fatalf("remote content differs: %d bytes, %v", len(got), err)
	}
}

func TestStatusErr(t *testing.T) {
	if err := statusErr("list", http.StatusOK); err != nil {
		t.Fatalf("200 = %v", err)
	}
	if err := statusErr("stream", http.StatusForbidden); !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("403 = %v, want ErrPermissionDenied", err)
	}
	var status *StatusError
	if err := statusErr("scan", http.StatusBadGateway); !errors.As(err, &status) || status.Op != "scan" {
		t.Fatalf("502 = %v", err)
	}
}
