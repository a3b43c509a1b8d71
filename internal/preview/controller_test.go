package preview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(notes []domain.Notification) []domain.NotificationKind {
	out := make([]domain.NotificationKind, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Kind)
	}
	return out
}

func TestUpload_Succeeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, StateEmpty, h.snapshot().State)

	snap, err := h.ctrl.Upload(ctx, "cat.jpg", []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, StateUploading, snap.State)
	assert.Empty(t, snap.Hash)

	tr := h.await("upload_done")
	assert.True(t, tr.Applied)
	assert.Equal(t, StateUploading, tr.From)
	assert.Equal(t, StateDisplayingOrigin, tr.To)

	h.awaitAll("origin_render_done", "origin_info_done", "derived_info_done")
	snap = h.snapshot()
	assert.Equal(t, hashA, snap.Hash)
	assert.Equal(t, "http://kimg/image/"+hashA+"?origin=1", snap.Origin.URL)
	assert.False(t, snap.Origin.MetadataPending)
	assert.Equal(t, metadataFor("origin=1"), snap.Origin.Metadata)
	assert.Contains(t, h.kimg.Calls(), "info origin=1")
}

func TestUpload_OriginMetadataFailure(t *testing.T) {
	h := newHarness(t)
	h.kimg.infoErr["origin=1"] = errBoom

	_, err := h.ctrl.Upload(context.Background(), "cat.jpg", []byte("jpeg bytes"))
	require.NoError(t, err)

	tr := h.await("origin_info_done")
	assert.True(t, tr.Applied)
	assert.Equal(t, StateEmpty, tr.To)

	snap := h.snapshot()
	assert.Empty(t, snap.Hash)
	assert.Empty(t, snap.Origin.URL)

	notes, _ := h.ctrl.Notifications(context.Background())
	assert.Equal(t, []domain.NotificationKind{domain.KindUploaded, domain.KindMetadataFetch}, kinds(notes))
}

func TestUpload_Fails(t *testing.T) {
	h := newHarness(t)
	h.kimg.uploadErr = errBoom

	_, err := h.ctrl.Upload(context.Background(), "cat.jpg", []byte("x"))
	require.NoError(t, err)

	tr := h.await("upload_done")
	assert.True(t, tr.Applied)
	assert.Equal(t, StateEmpty, tr.To)

	snap := h.snapshot()
	assert.Empty(t, snap.Hash)
	assert.Empty(t, snap.Origin.URL)

	notes, err := h.ctrl.Notifications(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.KindUploadFailure, notes[0].Kind)
	assert.Equal(t, domain.LevelError, notes[0].Level)
}

func TestUpload_FailureWrappedOnce(t *testing.T) {
	for name, uploadErr := range map[string]error{
		"Transport error":      errBoom,
		"Client-wrapped error": fmt.Errorf("%w: %w", domain.ErrUploadFailed, errBoom),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.kimg.uploadErr = uploadErr

			_, err := h.ctrl.Upload(context.Background(), "cat.jpg", []byte("x"))
			require.NoError(t, err)
			h.await("upload_done")

			notes, err := h.ctrl.Notifications(context.Background())
			require.NoError(t, err)
			require.Len(t, notes, 1)
			assert.Equal(t, 1, strings.Count(notes[0].Message, domain.ErrUploadFailed.Error()))
			assert.Contains(t, notes[0].Message, "boom")
		})
	}
}

func TestUpload_SupersededByHashEntry(t *testing.T) {
	h := newHarness(t)
	release := h.kimg.gate("upload")

	_, err := h.ctrl.Upload(context.Background(), "cat.jpg", []byte("x"))
	require.NoError(t, err)

	other := strings.Repeat("b", 32)
	_, err = h.ctrl.LoadHash(context.Background(), other)
	require.NoError(t, err)

	close(release)
	tr := h.await("upload_done")
	assert.False(t, tr.Applied)
	assert.Equal(t, other, h.snapshot().Hash)
}

func TestSetPanel_WithImage(t *testing.T) {
	h := newHarness(t)
	h.loadSettled()

	snap := h.setPanel(query.Scale, map[string]any{"s": true, "sw": float64(300), "sh": float64(0)})
	assert.Equal(t, "s=1&sm=fit&sw=300", snap.Query)
	assert.Equal(t, StateDisplayingDerived, snap.State)
	assert.Equal(t, "http://kimg/image/"+hashA+"?s=1&sm=fit&sw=300", snap.Derived.URL)

	h.await("derived_info_done")
	snap = h.snapshot()
	assert.True(t, snap.Derived.Loaded)
	assert.Equal(t, metadataFor("s=1&sm=fit&sw=300"), snap.Derived.Metadata)
	assert.Contains(t, h.kimg.Calls(), "render s=1&sm=fit&sw=300")
	assert.Contains(t, h.kimg.Calls(), "info s=1&sm=fit&sw=300")
}

func TestSetPanel_Errors(t *testing.T) {
	h := newHarness(t)
	before := h.snapshot()

	_, err := h.ctrl.SetPanel(context.Background(), "colour", map[string]any{})
	assert.ErrorIs(t, err, domain.ErrUnknownPanel)

	_, err = h.ctrl.SetPanel(context.Background(), query.Basic, map[string]any{"q": "high"})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	assert.Equal(t, before, h.snapshot())
}

func TestGeneration_Monotonic(t *testing.T) {
	h := newHarness(t)
	start := h.snapshot().Generation

	for i := 1; i <= 5; i++ {
		h.setPanel(query.Basic, map[string]any{"q": float64(50 + i)})
	}
	assert.Equal(t, start+5, h.snapshot().Generation)

	// same query again is not a change
	h.setPanel(query.Basic, map[string]any{"q": float64(55)})
	assert.Equal(t, start+5, h.snapshot().Generation)

	// gated panel edits do not change the query either
	h.setPanel(query.Crop, map[string]any{"c": false, "cw": float64(10)})
	assert.Equal(t, start+5, h.snapshot().Generation)
	assert.Empty(t, h.kimg.Calls(), "no image, nothing to fetch")
}

func TestStaleDerivedResponseDiscarded(t *testing.T) {
	h := newHarness(t)
	h.loadSettled()

	q1 := "s=1&sm=fit&sw=100&sh=200"
	q2 := "s=1&sm=fit&sw=300&sh=200"
	release1 := h.kimg.gate(q1)
	release2 := h.kimg.gate(q2)

	g1 := h.setPanel(query.Scale, map[string]any{"s": true, "sw": float64(100)}).Generation
	g2 := h.setPanel(query.Scale, map[string]any{"s": true, "sw": float64(300)}).Generation
	require.Equal(t, g1+1, g2)

	close(release2)
	tr := h.await("derived_render_done")
	assert.True(t, tr.Applied)
	assert.Equal(t, g2, tr.Ticket.Generation)
	h.await("derived_info_done")

	close(release1)
	tr = h.await("derived_render_done")
	assert.False(t, tr.Applied)
	assert.Equal(t, g1, tr.Ticket.Generation)

	snap := h.snapshot()
	assert.Equal(t, g2, snap.Generation)
	assert.Equal(t, q2, snap.Derived.Query)
	assert.Equal(t, metadataFor(q2), snap.Derived.Metadata)

	r, err := h.ctrl.Rendition(context.Background(), ViewDerived)
	require.NoError(t, err)
	assert.Equal(t, []byte(q2), r.Body)
}

func TestDelete(t *testing.T) {
	t.Run("Requires confirmation", func(t *testing.T) {
		h := newHarness(t)
		before := h.loadSettled()

		_, err := h.ctrl.Delete(context.Background(), false)
		assert.ErrorIs(t, err, domain.ErrConfirmationRequired)
		assert.Equal(t, before.Hash, h.snapshot().Hash)
	})

	t.Run("Requires an image", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ctrl.Delete(context.Background(), true)
		assert.ErrorIs(t, err, domain.ErrNoImage)
	})

	t.Run("Clears even when kimg fails", func(t *testing.T) {
		h := newHarness(t)
		h.loadSettled()
		h.kimg.mu.Lock()
		h.kimg.deleteErr = errBoom
		h.kimg.mu.Unlock()

		snap, err := h.ctrl.Delete(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, StateEmpty, snap.State)
		assert.Empty(t, snap.Hash)
		assert.Empty(t, snap.Origin.URL)
		assert.Empty(t, snap.Derived.URL)
		assert.Equal(t, domain.Metadata{}, snap.Origin.Metadata)
		assert.Equal(t, domain.Metadata{}, snap.Derived.Metadata)

		h.await("delete_done")
		assert.Equal(t, StateEmpty, h.snapshot().State)

		notes, err := h.ctrl.Notifications(context.Background())
		require.NoError(t, err)
		assert.Contains(t, kinds(notes), domain.KindDeletionFailure)
		assert.Contains(t, h.kimg.Calls(), "delete "+hashA)
	})

	t.Run("In flight responses are dropped", func(t *testing.T) {
		h := newHarness(t)
		h.loadSettled()
		release := h.kimg.gate("q=75&f=jpg")
		h.setPanel(query.Basic, map[string]any{})

		_, err := h.ctrl.Delete(context.Background(), true)
		require.NoError(t, err)
		close(release)

		tr := h.await("derived_render_done")
		assert.False(t, tr.Applied)
		assert.Equal(t, StateEmpty, h.snapshot().State)
	})
}

func TestLoadHash_Invalid(t *testing.T) {
	h := newHarness(t)
	before := h.loadSettled()

	_, err := h.ctrl.LoadHash(context.Background(), strings.Repeat("a", 31))
	assert.ErrorIs(t, err, domain.ErrInvalidHash)

	_, err = h.ctrl.LoadHash(context.Background(), strings.Repeat("-", 32))
	assert.ErrorIs(t, err, domain.ErrInvalidHash)

	assert.Equal(t, before, h.snapshot())
}

func TestOriginLoadFailure_EmptiesSession(t *testing.T) {
	h := newHarness(t)
	h.kimg.renderErr["origin=1"] = errBoom

	_, err := h.ctrl.LoadHash(context.Background(), hashA)
	require.NoError(t, err)

	tr := h.await("origin_render_done")
	assert.True(t, tr.Applied)
	assert.Equal(t, StateEmpty, tr.To)

	snap := h.snapshot()
	assert.Empty(t, snap.Hash)
	assert.Empty(t, snap.Origin.URL)

	notes, _ := h.ctrl.Notifications(context.Background())
	assert.Equal(t, []domain.NotificationKind{domain.KindOriginLoad}, kinds(notes))
	assert.Equal(t, hashA, notes[0].Hash)
}

func TestDerivedLoadFailure(t *testing.T) {
	t.Run("Falls back to last good derived view", func(t *testing.T) {
		h := newHarness(t)
		h.loadSettled()
		h.kimg.mu.Lock()
		h.kimg.renderErr["q=75&f=jpg"] = errBoom
		h.kimg.mu.Unlock()

		h.setPanel(query.Basic, map[string]any{})
		tr := h.await("derived_render_done")
		assert.True(t, tr.Applied)
		assert.Equal(t, StateError, tr.To)

		snap := h.snapshot()
		assert.Equal(t, hashA, snap.Hash)
		assert.Equal(t, ViewDerived, snap.Displayed)
		assert.Equal(t, "", snap.Derived.Query)
		assert.Equal(t, metadataFor(""), snap.Derived.Metadata)

		notes, _ := h.ctrl.Notifications(context.Background())
		assert.Contains(t, kinds(notes), domain.KindDerivedLoad)

		// the next good query leaves the error state
		h.setPanel(query.Basic, map[string]any{"q": float64(80)})
		tr = h.await("derived_render_done")
		assert.Equal(t, StateDisplayingDerived, tr.To)
	})

	t.Run("Falls back to origin without a good derived view", func(t *testing.T) {
		h := newHarness(t)
		h.kimg.renderErr[""] = errBoom

		_, err := h.ctrl.LoadHash(context.Background(), hashA)
		require.NoError(t, err)
		h.awaitAll("origin_render_done", "origin_info_done", "derived_render_done")

		snap := h.snapshot()
		assert.Equal(t, StateError, snap.State)
		assert.Equal(t, ViewOrigin, snap.Displayed)
		assert.Equal(t, metadataFor("origin=1"), snap.Origin.Metadata)

		_, err = h.ctrl.Rendition(context.Background(), ViewDerived)
		assert.ErrorIs(t, err, domain.ErrNoImage)
	})
}

func TestMetadataFailure(t *testing.T) {
	t.Run("Origin metadata failure empties session", func(t *testing.T) {
		h := newHarness(t)
		h.kimg.infoErr["origin=1"] = errBoom

		_, err := h.ctrl.LoadHash(context.Background(), hashA)
		require.NoError(t, err)

		tr := h.await("origin_info_done")
		assert.Equal(t, StateEmpty, tr.To)
		assert.Empty(t, h.snapshot().Hash)
	})

	t.Run("Derived metadata failure keeps the image", func(t *testing.T) {
		h := newHarness(t)
		h.kimg.infoErr[""] = errBoom

		_, err := h.ctrl.LoadHash(context.Background(), hashA)
		require.NoError(t, err)
		h.awaitAll("origin_info_done", "derived_info_done")

		snap := h.snapshot()
		assert.Equal(t, StateDisplayingDerived, snap.State)
		assert.True(t, snap.Derived.Loaded)
		assert.False(t, snap.Derived.MetadataPending)
		assert.Equal(t, domain.Metadata{}, snap.Derived.Metadata)

		notes, _ := h.ctrl.Notifications(context.Background())
		assert.Equal(t, []domain.NotificationKind{domain.KindMetadataFetch}, kinds(notes))
	})
}

func TestPanels(t *testing.T) {
	h := newHarness(t)
	h.setPanel(query.Watermark, map[string]any{"wm": true, "tc": "ff0"})

	views, err := h.ctrl.Panels(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 4)

	wm := views[3]
	assert.Equal(t, query.Watermark, wm.Name)
	assert.Equal(t, "wm", wm.Gate)
	assert.Equal(t, "t", wm.Requires)
	assert.Equal(t, "000000", wm.Swatches["tc"])
	_, ok := wm.Partial.Get("tc")
	assert.False(t, ok, "short colors never reach the query")
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (r *recordingNotifier) Publish(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func TestNotifierReceivesNotifications(t *testing.T) {
	kimg := newFakeKimg()
	kimg.uploadErr = errBoom
	n := &recordingNotifier{}

	ctrl := New("s-1", kimg, WithNotifier(n))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	_, err := ctrl.Upload(ctx, "x.png", []byte("x"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return n.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "s-1", n.notes[0].SessionID)
}

func TestClosedController(t *testing.T) {
	ctrl := New("s-closed", newFakeKimg())
	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	cancel()
	<-ctrl.Done()

	_, err := ctrl.Snapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
