package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"lorevault/internal/media"
	"lorevault/internal/storage"
)

// Ledger records completed content. Recording the same reference twice must
// not count twice; RecordCompletion reports whether the reference was new.
type Ledger interface {
	RecordCompletion(ctx context.Context, reference, videoID string) (bool, error)
	HasCompletion(ctx context.Context, references ...string) (bool, error)
}

var (
	_ Ledger = (*storage.SQLiteStorage)(nil)
	_ Ledger = (*storage.MemoryStorage)(nil)
	_ Ledger = (*RemoteLedger)(nil)
)

// RemoteLedger talks to the progress backend over HTTP.
type RemoteLedger struct {
	baseURL string
	client  *http.Client
}

func NewRemoteLedger(baseURL string, timeout time.Duration) *RemoteLedger {
	return &RemoteLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type completeRequest struct {
	Reference string `json:"reference"`
	VideoID   string `json:"video_id,omitempty"`
}

type completeResponse struct {
	Created bool `json:"created"`
}

type statusResponse struct {
	Completed bool `json:"completed"`
}

func (l *RemoteLedger) RecordCompletion(ctx context.Context, reference, videoID string) (bool, error) {
	body, err := json.Marshal(completeRequest{Reference: reference, VideoID: videoID})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/progress/complete", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out completeResponse
	if err := l.do(req, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

func (l *RemoteLedger) HasCompletion(ctx context.Context, references ...string) (bool, error) {
	for _, ref := range references {
		if ref == "" {
			continue
		}
		u := l.baseURL + "/progress/status?reference=" + url.QueryEscape(ref)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return false, err
		}
		var out statusResponse
		if err := l.do(req, &out); err != nil {
			return false, err
		}
		if out.Completed {
			return true, nil
		}
	}
	return false, nil
}

func (l *RemoteLedger) do(req *http.Request, out any) error {
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("progress backend: %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Completion is the outcome of marking a video complete.
type Completion struct {
	Reference Reference `json:"reference"`
	// Recorded is false when the same content had been completed before.
	Recorded bool `json:"recorded"`
}

// Tracker marks library videos complete exactly once per content.
type Tracker struct {
	resolver *Resolver
	ledger   Ledger
	logger   zerolog.Logger
}

func NewTracker(resolver *Resolver, ledger Ledger, logger zerolog.Logger) *Tracker {
	return &Tracker{resolver: resolver, ledger: ledger, logger: logger}
}

func (t *Tracker) Resolve(ctx context.Context, v storage.Video) (Reference, error) {
	return t.resolver.Resolve(ctx, v)
}

// Complete records v's content reference. Content completed earlier, under
// this reference or under the record's legacy id, is not recorded again.
func (t *Tracker) Complete(ctx context.Context, v storage.Video) (Completion, error) {
	ref, err := t.resolver.Resolve(ctx, v)
	if err != nil {
		return Completion{}, err
	}

	done, err := t.ledger.HasCompletion(ctx, legacyKeys(v)...)
	if err != nil {
		return Completion{}, err
	}
	if done {
		return Completion{Reference: ref}, nil
	}

	created, err := t.ledger.RecordCompletion(ctx, ref.Value, v.ID)
	if err != nil {
		return Completion{}, err
	}

	t.logger.Info().
		Str("id", v.ID).
		Str("reference", ref.Value).
		Str("tier", string(ref.Tier)).
		Bool("recorded", created).
		Msg("video completed")

	return Completion{Reference: ref, Recorded: created}, nil
}

// IsCompleted reports whether v's content, or its legacy id, is in the
// ledger.
func (t *Tracker) IsCompleted(ctx context.Context, v storage.Video) (bool, error) {
	ref, err := t.resolver.Resolve(ctx, v)
	if err != nil {
		return false, err
	}
	return t.ledger.HasCompletion(ctx, append([]string{ref.Value}, legacyKeys(v)...)...)
}

// Lookup reports whether a reference read from elsewhere is in the ledger.
func (t *Tracker) Lookup(ctx context.Context, ref Reference) (bool, error) {
	return t.ledger.HasCompletion(ctx, ref.Value)
}

func legacyKeys(v storage.Video) []string {
	return []string{v.ID, media.LegacyVideoID(v.Name, v.SizeBytes, v.LastModifiedMs)}
}
