package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"lorevault/internal/media"
)

// Client reads a remote Bridge service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-success answer from the Bridge.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge %s: status %d", e.Op, e.Status)
}

func (c *Client) endpoint(op, p string) string {
	return c.baseURL + "/" + op + "?path=" + url.QueryEscape(p)
}

func (c *Client) getJSON(ctx context.Context, op, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(op, p), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusErr(op, resp.StatusCode); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusErr(op string, status int) error {
	switch {
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: bridge %s", media.ErrPermissionDenied, op)
	case status/100 != 2:
		return &StatusError{Op: op, Status: status}
	}
	return nil
}

func (c *Client) List(ctx context.Context, p string) (*ListResponse, error) {
	var out ListResponse
	if err := c.getJSON(ctx, "list", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Scan(ctx context.Context, p string) (*ScanResponse, error) {
	var out ScanResponse
	if err := c.getJSON(ctx, "scan", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadRange reads len(buf) bytes of the remote file starting at off.
func (c *Client) ReadRange(ctx context.Context, p string, buf []byte, off int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("stream", p), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(buf))-1))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case http.StatusOK:
		// Server ignored the range.
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return 0, io.EOF
		}
	default:
		return 0, statusErr("stream", resp.StatusCode)
	}

	n, err := io.ReadFull(resp.Body, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// Root returns a directory handle on p.
func (c *Client) Root(p string) *Dir {
	p = strings.Trim(path.Clean("/"+p), "/")
	name := path.Base(p)
	if p == "" {
		name = ""
	}
	return &Dir{client: c, path: p, name: name}
}

// OpenFile recreates a file handle from the path part of a "bridge:" ref.
func (c *Client) OpenFile(p string) (media.FileHandle, error) {
	return &File{client: c, path: strings.TrimPrefix(p, "/"), name: path.Base(p)}, nil
}

// Dir is a remote directory. It lists itself in the values shape.
type Dir struct {
	client *Client
	path   string
	name   string
}

var _ media.ValuesLister = (*Dir)(nil)

func (d *Dir) Name() string { return d.name }

func (d *Dir) Values(ctx context.Context) ([]media.Handle, error) {
	list, err := d.client.List(ctx, d.path)
	if err != nil {
		return nil, err
	}

	handles := make([]media.Handle, 0, len(list.Entries))
	for _, e := range list.Entries {
		if e.IsDir {
			handles = append(handles, &Dir{client: d.client, path: e.Path, name: e.Name})
			continue
		}
		info := media.FileInfo{Size: e.Size, LastModifiedMs: e.ModifiedMs, MimeType: e.MimeType}
		handles = append(handles, &File{client: d.client, path: e.Path, name: e.Name, info: &info})
	}
	return handles, nil
}

// File is a remote file.
type File struct {
	client *Client
	path   string
	name   string
	info   *media.FileInfo
}

var (
	_ media.FileHandle          = (*File)(nil)
	_ media.PermissionRequester = (*File)(nil)
)

func (f *File) Name() string { return f.name }

func (f *File) Ref() string { return "bridge:" + f.path }

func (f *File) Stat(ctx context.Context) (media.FileInfo, error) {
	if f.info != nil {
		return *f.info, nil
	}

	parent := path.Dir(f.path)
	if parent == "." {
		parent = ""
	}
	list, err := f.client.List(ctx, parent)
	if err != nil {
		return media.FileInfo{}, err
	}
	for _, e := range list.Entries {
		if e.Name == f.name && !e.IsDir {
			info := media.FileInfo{Size: e.Size, LastModifiedMs: e.ModifiedMs, MimeType: e.MimeType}
			f.info = &info
			return info, nil
		}
	}
	return media.FileInfo{}, &StatusError{Op: "stat", Status: http.StatusNotFound}
}

func (f *File) Open(ctx context.Context) (media.Content, error) {
	return &remoteContent{ctx: ctx, client: f.client, path: f.path}, nil
}

func (f *File) QueryPermission(ctx context.Context) (media.PermissionState, error) {
	var probe [1]byte
	_, err := f.client.ReadRange(ctx, f.path, probe[:], 0)
	switch {
	case err == nil || err == io.EOF:
		return media.PermissionGranted, nil
	case isPermission(err):
		return media.PermissionDenied, nil
	}
	return "", err
}

// RequestPermission cannot prompt anyone on the remote machine.
func (f *File) RequestPermission(ctx context.Context) (media.PermissionState, error) {
	return f.QueryPermission(ctx)
}

type remoteContent struct {
	ctx    context.Context
	client *Client
	path   string
}

func (r *remoteContent) ReadAt(p []byte, off int64) (int, error) {
	return r.client.ReadRange(r.ctx, r.path, p, off)
}

func (r *remoteContent) Close() error { return nil }

func isPermission(err error) bool {
	return errors.Is(err, media.ErrPermissionDenied)
}
