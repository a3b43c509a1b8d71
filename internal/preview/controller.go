package preview

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/query"
	"github.com/baechuer/kimg-panel/internal/tracing"
	"github.com/baechuer/kimg-panel/middleware"
)

// ImageService is the part of kimg a preview session needs.
type ImageService interface {
	Upload(ctx context.Context, filename string, data []byte) (domain.UploadResult, error)
	Render(ctx context.Context, hash, query string) (domain.Rendition, error)
	Info(ctx context.Context, hash, query string) (domain.Metadata, error)
	Delete(ctx context.Context, hash string) error
	ImageURL(hash, query string) string
}

// Notifier fans notifications out beyond the session, e.g. to RabbitMQ.
type Notifier interface {
	Publish(ctx context.Context, n domain.Notification) error
}

type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithObserver registers fn to be called from the loop after every network
// completion, applied or discarded. fn must not block.
func WithObserver(fn func(Transition)) Option {
	return func(c *Controller) { c.observer = fn }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithNotificationLimit(n int) Option {
	return func(c *Controller) { c.noteLimit = n }
}

const publishTimeout = 5 * time.Second

// Controller runs the preview lifecycle of one session. Every public method
// is a message into the loop started by Run; network calls run on their own
// goroutines and post their results back as events, so the stale check and
// the state write happen together inside the loop.
type Controller struct {
	id        string
	svc       ImageService
	log       zerolog.Logger
	notifier  Notifier
	observer  func(Transition)
	noteLimit int

	events  chan event
	done    chan struct{}
	running atomic.Bool
	// lastActive is unix nanos of the last user command.
	lastActive atomic.Int64

	// owned by the loop
	runCtx   context.Context
	session  *Session
	compiler *query.Compiler
	forms    map[query.PanelName]*query.Form
	reqID    string
}

func New(id string, svc ImageService, opts ...Option) *Controller {
	c := &Controller{
		id:     id,
		svc:    svc,
		log:    zerolog.Nop(),
		events: make(chan event, 16),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("session_id", id).Logger()
	c.session = NewSession(id, svc.ImageURL, c.noteLimit)
	c.compiler = query.NewCompiler()
	c.forms = make(map[query.PanelName]*query.Form, len(query.Panels))
	for _, p := range query.Panels {
		c.forms[p.Name] = p.Mount(c.onPanelChange)
	}
	c.touch()
	return c
}

func (c *Controller) ID() string { return c.id }

// Run processes events until ctx is done. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.runCtx = ctx
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("preview_session_stopped")
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Done is closed once the loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// IdleSince is the time of the last user command.
func (c *Controller) IdleSince() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Controller) touch() { c.lastActive.Store(time.Now().UnixNano()) }

// Upload starts an upload and returns once the session is Uploading. The
// outcome is visible through Snapshot and Notifications.
func (c *Controller) Upload(ctx context.Context, filename string, data []byte) (Snapshot, error) {
	reply := make(chan result[Snapshot], 1)
	return call(ctx, c, uploadCmd{filename: filename, data: data, reply: reply}, reply)
}

// SetPanel replaces one panel's values. A changed query starts a new
// derived render when an image is loaded.
func (c *Controller) SetPanel(ctx context.Context, panel query.PanelName, values map[string]any) (Snapshot, error) {
	reply := make(chan result[Snapshot], 1)
	return call(ctx, c, setPanelCmd{panel: panel, values: values, reply: reply}, reply)
}

// LoadHash shows an image already stored in kimg. Malformed hashes are
// rejected without touching the session.
func (c *Controller) LoadHash(ctx context.Context, hash string) (Snapshot, error) {
	reply := make(chan result[Snapshot], 1)
	return call(ctx, c, loadHashCmd{hash: hash, reply: reply}, reply)
}

// Delete clears the session and then asks kimg to delete the image. The
// local clear is never rolled back.
func (c *Controller) Delete(ctx context.Context, confirm bool) (Snapshot, error) {
	reply := make(chan result[Snapshot], 1)
	return call(ctx, c, deleteCmd{confirm: confirm, reply: reply}, reply)
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan result[Snapshot], 1)
	return call(ctx, c, snapshotCmd{reply: reply}, reply)
}

func (c *Controller) Panels(ctx context.Context) ([]PanelView, error) {
	reply := make(chan result[[]PanelView], 1)
	return call(ctx, c, panelsCmd{reply: reply}, reply)
}

// Notifications drains the pending notifications.
func (c *Controller) Notifications(ctx context.Context) ([]domain.Notification, error) {
	reply := make(chan result[[]domain.Notification], 1)
	return call(ctx, c, notificationsCmd{reply: reply}, reply)
}

// Rendition returns the bytes currently displayed for view.
func (c *Controller) Rendition(ctx context.Context, view View) (*domain.Rendition, error) {
	reply := make(chan result[*domain.Rendition], 1)
	return call(ctx, c, renditionCmd{view: view, reply: reply}, reply)
}

func call[T any](ctx context.Context, c *Controller, ev event, reply chan result[T]) (T, error) {
	var zero T
	c.touch()

	select {
	case c.events <- withRequestID(ctx, ev):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, domain.ErrSessionClosed
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, domain.ErrSessionClosed
	}
}

// tagged carries the caller's request id into the loop so the kimg calls a
// command triggers are logged and traced under it.
type tagged struct {
	event
	reqID string
}

func withRequestID(ctx context.Context, ev event) event {
	if id := middleware.GetRequestID(ctx); id != "" {
		return tagged{event: ev, reqID: id}
	}
	return ev
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handle(ev event) {
	c.reqID = ""
	if t, ok := ev.(tagged); ok {
		c.reqID = t.reqID
		ev = t.event
	}

	from := c.session.State()
	fromGen := c.session.Generation()

	switch e := ev.(type) {
	case uploadCmd:
		t := c.session.StartUpload()
		c.goUpload(t, e.filename, e.data)
		e.reply <- result[Snapshot]{val: c.snapshot()}

	case setPanelCmd:
		form, ok := c.forms[e.panel]
		if !ok {
			e.reply <- result[Snapshot]{err: fmt.Errorf("%w: %s", domain.ErrUnknownPanel, e.panel)}
			break
		}
		// Set pushes the partial to onPanelChange before it returns.
		if err := form.Set(e.values); err != nil {
			e.reply <- result[Snapshot]{err: err}
			break
		}
		e.reply <- result[Snapshot]{val: c.snapshot()}

	case loadHashCmd:
		if !domain.ValidHash(e.hash) {
			e.reply <- result[Snapshot]{err: fmt.Errorf("%w: %q", domain.ErrInvalidHash, e.hash)}
			break
		}
		c.issue(c.session.EnterHash(e.hash))
		e.reply <- result[Snapshot]{val: c.snapshot()}

	case deleteCmd:
		switch {
		case !e.confirm:
			e.reply <- result[Snapshot]{err: domain.ErrConfirmationRequired}
		case c.session.Hash() == "":
			e.reply <- result[Snapshot]{err: domain.ErrNoImage}
		default:
			hash := c.session.Clear()
			c.goDelete(hash)
			e.reply <- result[Snapshot]{val: c.snapshot()}
		}

	case snapshotCmd:
		e.reply <- result[Snapshot]{val: c.snapshot()}

	case panelsCmd:
		views := make([]PanelView, 0, len(query.Panels))
		for _, p := range query.Panels {
			views = append(views, panelView(c.forms[p.Name]))
		}
		e.reply <- result[[]PanelView]{val: views}

	case notificationsCmd:
		e.reply <- result[[]domain.Notification]{val: c.session.DrainNotifications()}

	case renditionCmd:
		r, ok := c.session.Rendition(e.view)
		if !ok {
			e.reply <- result[*domain.Rendition]{err: domain.ErrNoImage}
			break
		}
		e.reply <- result[*domain.Rendition]{val: r}

	case uploadDone:
		var applied bool
		if e.err != nil {
			applied = c.session.UploadFailed(e.ticket, e.err)
		} else {
			var reqs []request
			reqs, applied = c.session.UploadSucceeded(e.ticket, e.res)
			c.issue(reqs)
		}
		c.completed(e, e.ticket, applied, from)

	case renderDone:
		var applied bool
		if e.err != nil {
			applied = c.session.RenderFailed(e.view, e.ticket, e.err)
		} else {
			var reqs []request
			reqs, applied = c.session.RenderSucceeded(e.view, e.ticket, e.r)
			c.issue(reqs)
		}
		c.completed(e, e.ticket, applied, from)

	case infoDone:
		var applied bool
		if e.err != nil {
			applied = c.session.InfoFailed(e.view, e.ticket, e.err)
		} else {
			applied = c.session.InfoSucceeded(e.view, e.ticket, e.md)
		}
		c.completed(e, e.ticket, applied, from)

	case deleteDone:
		c.session.DeleteFinished(e.hash, e.err)
		c.completed(e, Ticket{}, true, from)
	}

	to := c.session.State()
	recordTransition(from, to)
	if from != to || fromGen != c.session.Generation() {
		c.log.Debug().
			Str("event", ev.name()).
			Stringer("from", from).
			Stringer("to", to).
			Uint64("generation", c.session.Generation()).
			Msg("preview_transition")
	}
	c.publish(c.session.takeFresh())
}

// completed logs stale discards and reports the completion to the observer.
func (c *Controller) completed(ev event, t Ticket, applied bool, from State) {
	if !applied {
		staleDiscardsTotal.WithLabelValues(ev.name()).Inc()
		c.log.Debug().
			Str("event", ev.name()).
			Uint64("ticket_generation", t.Generation).
			Uint64("ticket_epoch", t.Epoch).
			Uint64("generation", c.session.Generation()).
			Msg("preview_stale_response_discarded")
	}
	if c.observer != nil {
		c.observer(Transition{
			Event:      ev.name(),
			Ticket:     t,
			Applied:    applied,
			From:       from,
			To:         c.session.State(),
			Generation: c.session.Generation(),
		})
	}
}

// onPanelChange is the Form callback. It runs inside the loop, during
// setPanelCmd handling.
func (c *Controller) onPanelChange(panel query.PanelName, partial query.Partial) {
	q, changed := c.compiler.Merge(panel, partial)
	if !changed {
		return
	}
	c.issue(c.session.ChangeQuery(q))
}

func (c *Controller) snapshot() Snapshot {
	return c.session.Snapshot()
}

// workCtx is the context network calls run under: the loop's lifetime plus
// the request id of the command that caused them.
func (c *Controller) workCtx() context.Context {
	ctx := c.runCtx
	if c.reqID != "" {
		ctx = middleware.WithRequestID(ctx, c.reqID)
	}
	return middleware.WithSessionID(ctx, c.id)
}

func (c *Controller) issue(reqs []request) {
	ctx := c.workCtx()
	for _, req := range reqs {
		switch req.kind {
		case reqRender:
			go func() {
				ctx, span := tracing.StartKimgCall(ctx, "render", string(req.view), req.query, req.ticket.Generation, req.ticket.Epoch)
				r, err := c.svc.Render(ctx, req.hash, req.query)
				tracing.End(span, err)
				recordCall("render", err)
				c.post(renderDone{ticket: req.ticket, view: req.view, query: req.query, r: r, err: err})
			}()
		case reqInfo:
			go func() {
				ctx, span := tracing.StartKimgCall(ctx, "info", string(req.view), req.query, req.ticket.Generation, req.ticket.Epoch)
				md, err := c.svc.Info(ctx, req.hash, req.query)
				tracing.End(span, err)
				recordCall("info", err)
				c.post(infoDone{ticket: req.ticket, view: req.view, query: req.query, md: md, err: err})
			}()
		}
	}
}

func (c *Controller) goUpload(t Ticket, filename string, data []byte) {
	ctx := c.workCtx()
	go func() {
		ctx, span := tracing.StartKimgCall(ctx, "upload", string(ViewOrigin), "", t.Generation, t.Epoch)
		res, err := c.svc.Upload(ctx, filename, data)
		tracing.End(span, err)
		recordCall("upload", err)
		if err != nil && !errors.Is(err, domain.ErrUploadFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
		}
		c.post(uploadDone{ticket: t, res: res, err: err})
	}()
}

func (c *Controller) goDelete(hash string) {
	ctx := c.workCtx()
	go func() {
		ctx, span := tracing.StartKimgCall(ctx, "delete", string(ViewOrigin), "", 0, 0)
		err := c.svc.Delete(ctx, hash)
		tracing.End(span, err)
		recordCall("delete", err)
		if err != nil {
			err = fmt.Errorf("%w: %w", domain.ErrDeleteFailed, err)
		}
		c.post(deleteDone{hash: hash, err: err})
	}()
}

func (c *Controller) publish(notes []domain.Notification) {
	if len(notes) == 0 {
		return
	}
	for _, n := range notes {
		ev := c.log.Info()
		if n.Level == domain.LevelError {
			ev = c.log.Warn()
		}
		ev.Str("kind", string(n.Kind)).Str("hash", n.Hash).Msg(n.Message)
	}
	if c.notifier == nil {
		return
	}
	ctx := context.WithoutCancel(c.workCtx())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		for _, n := range notes {
			if err := c.notifier.Publish(ctx, n); err != nil {
				c.log.Warn().Err(err).Str("kind", string(n.Kind)).Msg("notification_publish_failed")
			}
		}
	}()
}
