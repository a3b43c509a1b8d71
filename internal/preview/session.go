package preview

import (
	"time"

	"github.com/google/uuid"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/downstream"
	"github.com/baechuer/kimg-panel/internal/query"
)

type requestKind int

const (
	reqRender requestKind = iota
	reqInfo
)

// request is a network call the controller must issue after a transition.
type request struct {
	kind   requestKind
	view   View
	hash   string
	query  string
	ticket Ticket
}

type viewState struct {
	url             string
	query           string
	rendition       *domain.Rendition
	metadata        domain.Metadata
	loaded          bool
	metadataPending bool
}

func (v viewState) snapshot() ViewSnapshot {
	return ViewSnapshot{
		URL:             v.url,
		Query:           v.query,
		Loaded:          v.loaded,
		MetadataPending: v.metadataPending,
		Metadata:        v.metadata,
	}
}

// Session is the preview state of one browser session. It performs no I/O:
// every transition returns the requests to issue and the controller's loop
// is its only writer.
type Session struct {
	id     string
	urlFor func(hash, query string) string

	state      State
	hash       string
	query      query.Canonical
	generation uint64
	// epoch is the generation at which the image identity was last set or
	// cleared. Origin and upload responses are matched against it.
	epoch uint64

	origin   viewState
	derived  viewState
	lastGood *viewState

	notes     []domain.Notification
	noteLimit int
	fresh     []domain.Notification
}

func NewSession(id string, urlFor func(hash, query string) string, noteLimit int) *Session {
	if noteLimit <= 0 {
		noteLimit = 20
	}
	return &Session{id: id, urlFor: urlFor, noteLimit: noteLimit}
}

func (s *Session) State() State           { return s.state }
func (s *Session) Generation() uint64     { return s.generation }
func (s *Session) Hash() string           { return s.hash }
func (s *Session) Query() query.Canonical { return s.query }

func (s *Session) ticket() Ticket {
	return Ticket{Generation: s.generation, Epoch: s.epoch}
}

// current reports whether a response captured with t still belongs to the
// session.
func (s *Session) current(view View, t Ticket) bool {
	if view == ViewOrigin {
		return t.Epoch == s.epoch
	}
	return t.Generation == s.generation
}

// resetIdentity drops the image and both views, and starts a new epoch.
func (s *Session) resetIdentity() {
	s.generation++
	s.epoch = s.generation
	s.hash = ""
	s.origin = viewState{}
	s.derived = viewState{}
	s.lastGood = nil
}

// ChangeQuery records a new compiled query. Callers only invoke it when the
// serialized query differs from the previous one.
func (s *Session) ChangeQuery(q query.Canonical) []request {
	s.query = q
	s.generation++

	if s.hash == "" || !s.origin.loaded {
		return nil
	}
	return []request{s.requestDerived()}
}

func (s *Session) requestDerived() request {
	q := s.query.Encode()
	s.derived = viewState{url: s.urlFor(s.hash, q), query: q}
	s.state = StateDisplayingDerived
	return request{kind: reqRender, view: ViewDerived, hash: s.hash, query: q, ticket: s.ticket()}
}

func (s *Session) StartUpload() Ticket {
	s.resetIdentity()
	s.state = StateUploading
	return s.ticket()
}

// UploadSucceeded stores the hash and the inline metadata, then asks for the
// origin render. The origin metadata is still fetched once the render lands.
func (s *Session) UploadSucceeded(t Ticket, res domain.UploadResult) ([]request, bool) {
	if !s.current(ViewOrigin, t) || s.state != StateUploading {
		return nil, false
	}
	s.hash = res.Hash
	s.origin = viewState{
		url:      s.urlFor(res.Hash, downstream.OriginQuery),
		query:    downstream.OriginQuery,
		metadata: res.Metadata,
	}
	s.state = StateDisplayingOrigin
	s.notify(domain.LevelInfo, domain.KindUploaded, "image uploaded")
	return []request{s.requestOrigin()}, true
}

func (s *Session) UploadFailed(t Ticket, err error) bool {
	if !s.current(ViewOrigin, t) || s.state != StateUploading {
		return false
	}
	s.resetIdentity()
	s.state = StateEmpty
	s.notify(domain.LevelError, domain.KindUploadFailure, "upload failed: "+err.Error())
	return true
}

func (s *Session) requestOrigin() request {
	return request{kind: reqRender, view: ViewOrigin, hash: s.hash, query: downstream.OriginQuery, ticket: s.ticket()}
}

// EnterHash switches to an existing image. hash must already be validated.
func (s *Session) EnterHash(hash string) []request {
	s.resetIdentity()
	s.hash = hash
	s.origin = viewState{
		url:   s.urlFor(hash, downstream.OriginQuery),
		query: downstream.OriginQuery,
	}
	s.state = StateDisplayingOrigin
	return []request{s.requestOrigin()}
}

// RenderSucceeded applies a rendered view. Metadata is only requested after
// its image rendered.
func (s *Session) RenderSucceeded(view View, t Ticket, r domain.Rendition) ([]request, bool) {
	if !s.current(view, t) || s.hash == "" {
		return nil, false
	}

	var reqs []request
	switch view {
	case ViewOrigin:
		if s.origin.loaded {
			return nil, false
		}
		s.origin.rendition = &r
		s.origin.loaded = true
		// Inline upload metadata stays on display until this fetch resolves.
		s.origin.metadataPending = true
		reqs = append(reqs,
			request{kind: reqInfo, view: ViewOrigin, hash: s.hash, query: downstream.OriginQuery, ticket: s.ticket()},
			s.requestDerived(),
		)
	case ViewDerived:
		s.derived.rendition = &r
		s.derived.loaded = true
		s.derived.metadataPending = true
		s.state = StateDisplayingDerived
		good := s.derived
		s.lastGood = &good
		reqs = append(reqs, request{kind: reqInfo, view: ViewDerived, hash: s.hash, query: s.derived.query, ticket: s.ticket()})
	}
	return reqs, true
}

// RenderFailed handles a failed render. A lost origin empties the session;
// a failed derived render keeps the last good view on screen.
func (s *Session) RenderFailed(view View, t Ticket, err error) bool {
	if !s.current(view, t) || s.hash == "" {
		return false
	}
	switch view {
	case ViewOrigin:
		hash := s.hash
		s.resetIdentity()
		s.state = StateEmpty
		s.notifyHash(domain.LevelError, domain.KindOriginLoad, "origin image could not be loaded: "+err.Error(), hash)
	case ViewDerived:
		s.state = StateError
		s.derived.loaded = false
		s.derived.metadataPending = false
		s.derived.rendition = nil
		s.notify(domain.LevelWarning, domain.KindDerivedLoad, "preview could not be rendered: "+err.Error())
	}
	return true
}

func (s *Session) InfoSucceeded(view View, t Ticket, md domain.Metadata) bool {
	if !s.current(view, t) || s.hash == "" {
		return false
	}
	switch view {
	case ViewOrigin:
		s.origin.metadata = md
		s.origin.metadataPending = false
	case ViewDerived:
		s.derived.metadata = md
		s.derived.metadataPending = false
		if s.lastGood != nil && s.lastGood.query == s.derived.query {
			s.lastGood.metadata = md
			s.lastGood.metadataPending = false
		}
	}
	return true
}

// InfoFailed: unreadable origin metadata ends the session, derived metadata
// failures are only reported.
func (s *Session) InfoFailed(view View, t Ticket, err error) bool {
	if !s.current(view, t) || s.hash == "" {
		return false
	}
	switch view {
	case ViewOrigin:
		hash := s.hash
		s.resetIdentity()
		s.state = StateEmpty
		s.notifyHash(domain.LevelError, domain.KindMetadataFetch, "origin metadata unavailable: "+err.Error(), hash)
	case ViewDerived:
		s.derived.metadataPending = false
		s.notify(domain.LevelWarning, domain.KindMetadataFetch, "preview metadata unavailable: "+err.Error())
	}
	return true
}

// Clear empties the session before a delete is sent and returns the hash
// that was displayed.
func (s *Session) Clear() string {
	hash := s.hash
	s.resetIdentity()
	s.state = StateEmpty
	return hash
}

func (s *Session) DeleteFinished(hash string, err error) {
	if err != nil {
		s.notifyHash(domain.LevelError, domain.KindDeletionFailure, "delete failed: "+err.Error(), hash)
		return
	}
	s.notifyHash(domain.LevelInfo, domain.KindDeleted, "image deleted", hash)
}

// displayedDerived is what the derived pane shows: the current derived view
// or, after a failed render, the last good one.
func (s *Session) displayedDerived() (viewState, bool) {
	if s.derived.loaded {
		return s.derived, true
	}
	if s.state == StateError && s.lastGood != nil {
		return *s.lastGood, true
	}
	return viewState{}, false
}

// Rendition returns the bytes currently shown for view.
func (s *Session) Rendition(view View) (*domain.Rendition, bool) {
	switch view {
	case ViewOrigin:
		if s.origin.loaded {
			return s.origin.rendition, true
		}
	case ViewDerived:
		if v, ok := s.displayedDerived(); ok {
			return v.rendition, true
		}
	}
	return nil, false
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		State:      s.state,
		Hash:       s.hash,
		Query:      s.query.Encode(),
		Params:     append([]query.Param{}, s.query...),
		Generation: s.generation,
		Epoch:      s.epoch,
		Origin:     s.origin.snapshot(),
		Derived:    s.derived.snapshot(),
		Pending:    len(s.notes),
	}

	if v, ok := s.displayedDerived(); ok {
		snap.Derived = v.snapshot()
		snap.Displayed = ViewDerived
	} else if s.origin.loaded {
		snap.Displayed = ViewOrigin
	}
	return snap
}

func (s *Session) notify(level domain.NotificationLevel, kind domain.NotificationKind, msg string) {
	s.notifyHash(level, kind, msg, s.hash)
}

func (s *Session) notifyHash(level domain.NotificationLevel, kind domain.NotificationKind, msg, hash string) {
	n := domain.Notification{
		ID:         uuid.NewString(),
		SessionID:  s.id,
		Level:      level,
		Kind:       kind,
		Message:    msg,
		Hash:       hash,
		Generation: s.generation,
		CreatedAt:  time.Now().UTC(),
	}
	s.notes = append(s.notes, n)
	if len(s.notes) > s.noteLimit {
		s.notes = s.notes[len(s.notes)-s.noteLimit:]
	}
	s.fresh = append(s.fresh, n)
}

// DrainNotifications returns and forgets the pending notifications.
func (s *Session) DrainNotifications() []domain.Notification {
	out := s.notes
	s.notes = nil
	if out == nil {
		out = []domain.Notification{}
	}
	return out
}

// takeFresh returns notifications raised since the last call, for publishing.
func (s *Session) takeFresh() []domain.Notification {
	out := s.fresh
	s.fresh = nil
	return out
}
