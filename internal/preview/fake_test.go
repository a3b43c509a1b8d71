package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/query"
	"github.com/stretchr/testify/require"
)

const hashA = "d41d8cd98f00b204e9800998ecf8427e"

var errBoom = errors.New("boom")

// fakeKimg answers immediately unless a gate is installed for a query, in
// which case Render waits until the test releases it.
type fakeKimg struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	renderErr map[string]error
	infoErr   map[string]error
	uploadRes domain.UploadResult
	uploadErr error
	deleteErr error
	calls     []string
}

func newFakeKimg() *fakeKimg {
	return &fakeKimg{
		gates:     map[string]chan struct{}{},
		renderErr: map[string]error{},
		infoErr:   map[string]error{},
		uploadRes: domain.UploadResult{
			Hash:     hashA,
			Metadata: domain.Metadata{Size: 1024, Width: 640, Height: 480, Format: "jpeg"},
		},
	}
}

func (f *fakeKimg) gate(query string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[query] = ch
	return ch
}

func (f *fakeKimg) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeKimg) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeKimg) Upload(ctx context.Context, filename string, data []byte) (domain.UploadResult, error) {
	f.record("upload")
	f.mu.Lock()
	res, err := f.uploadRes, f.uploadErr
	g := f.gates["upload"]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return domain.UploadResult{}, ctx.Err()
		}
	}
	return res, err
}

func (f *fakeKimg) Render(ctx context.Context, hash, query string) (domain.Rendition, error) {
	f.record("render " + query)
	f.mu.Lock()
	g := f.gates[query]
	err := f.renderErr[query]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return domain.Rendition{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Rendition{}, err
	}
	return domain.Rendition{ContentType: "image/png", Format: "png", Body: []byte(query)}, nil
}

func (f *fakeKimg) Info(ctx context.Context, hash, query string) (domain.Metadata, error) {
	f.record("info " + query)
	f.mu.Lock()
	err := f.infoErr[query]
	f.mu.Unlock()
	if err != nil {
		return domain.Metadata{}, err
	}
	return metadataFor(query), nil
}

func (f *fakeKimg) Delete(ctx context.Context, hash string) error {
	f.record("delete " + hash)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeKimg) ImageURL(hash, query string) string {
	u := "http://kimg/image/" + hash
	if query != "" {
		u += "?" + query
	}
	return u
}

// metadataFor makes metadata that identifies the query it belongs to.
func metadataFor(query string) domain.Metadata {
	return domain.Metadata{Size: int64(len(query)) + 100, Width: 10, Height: 10, Format: "q:" + query}
}

type harness struct {
	t     *testing.T
	ctrl  *Controller
	kimg  *fakeKimg
	trans chan Transition
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, kimg: newFakeKimg(), trans: make(chan Transition, 256)}
	h.ctrl = New("test-session", h.kimg, WithObserver(func(tr Transition) { h.trans <- tr }))

	ctx, cancel := context.WithCancel(context.Background())
	go h.ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
	return h
}

// await consumes transitions until one named event arrives.
func (h *harness) await(event string) Transition {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case tr := <-h.trans:
			if tr.Event == event {
				return tr
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// awaitAll consumes transitions until every named event has been seen.
func (h *harness) awaitAll(events ...string) {
	h.t.Helper()
	want := map[string]bool{}
	for _, e := range events {
		want[e] = true
	}
	timeout := time.After(2 * time.Second)
	for len(want) > 0 {
		select {
		case tr := <-h.trans:
			delete(want, tr.Event)
		case <-timeout:
			h.t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.ctrl.Snapshot(context.Background())
	require.NoError(h.t, err)
	return s
}

func (h *harness) setPanel(panel query.PanelName, values map[string]any) Snapshot {
	h.t.Helper()
	s, err := h.ctrl.SetPanel(context.Background(), panel, values)
	require.NoError(h.t, err)
	return s
}

// loadSettled enters hashA and waits until the origin, its derived view and
// the derived metadata are in.
func (h *harness) loadSettled() Snapshot {
	h.t.Helper()
	_, err := h.ctrl.LoadHash(context.Background(), hashA)
	require.NoError(h.t, err)
	h.awaitAll("origin_render_done", "origin_info_done", "derived_render_done", "derived_info_done")
	return h.snapshot()
}
