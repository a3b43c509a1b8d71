package preview

import (
	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/query"
)

// event is anything the loop handles: user commands and network completions.
type event interface {
	name() string
}

type result[T any] struct {
	val T
	err error
}

type uploadCmd struct {
	filename string
	data     []byte
	reply    chan result[Snapshot]
}

type setPanelCmd struct {
	panel  query.PanelName
	values map[string]any
	reply  chan result[Snapshot]
}

type loadHashCmd struct {
	hash  string
	reply chan result[Snapshot]
}

type deleteCmd struct {
	confirm bool
	reply   chan result[Snapshot]
}

type snapshotCmd struct {
	reply chan result[Snapshot]
}

type panelsCmd struct {
	reply chan result[[]PanelView]
}

type notificationsCmd struct {
	reply chan result[[]domain.Notification]
}

type renditionCmd struct {
	view  View
	reply chan result[*domain.Rendition]
}

type uploadDone struct {
	ticket Ticket
	res    domain.UploadResult
	err    error
}

type renderDone struct {
	ticket Ticket
	view   View
	query  string
	r      domain.Rendition
	err    error
}

type infoDone struct {
	ticket Ticket
	view   View
	query  string
	md     domain.Metadata
	err    error
}

type deleteDone struct {
	hash string
	err  error
}

func (uploadCmd) name() string        { return "upload" }
func (setPanelCmd) name() string      { return "set_panel" }
func (loadHashCmd) name() string      { return "load_hash" }
func (deleteCmd) name() string        { return "delete" }
func (snapshotCmd) name() string      { return "snapshot" }
func (panelsCmd) name() string        { return "panels" }
func (notificationsCmd) name() string { return "notifications" }
func (renditionCmd) name() string     { return "rendition" }
func (uploadDone) name() string       { return "upload_done" }
func (e renderDone) name() string     { return string(e.view) + "_render_done" }
func (e infoDone) name() string       { return string(e.view) + "_info_done" }
func (deleteDone) name() string       { return "delete_done" }

// Transition is reported to observers after every completion event.
type Transition struct {
	Event   string
	Ticket  Ticket
	Applied bool
	From    State
	To      State
	// Generation is the session generation after the event.
	Generation uint64
}
