package preview

import (
	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/query"
)

type State int

const (
	StateEmpty State = iota
	StateUploading
	StateDisplayingOrigin
	StateDisplayingDerived
	// StateError means the latest derived render failed. The last good
	// derived view, or the origin, stays on screen.
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateUploading:
		return "uploading"
	case StateDisplayingOrigin:
		return "displaying_origin"
	case StateDisplayingDerived:
		return "displaying_derived"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type View string

const (
	ViewOrigin  View = "origin"
	ViewDerived View = "derived"
)

func ParseView(s string) (View, bool) {
	switch View(s) {
	case ViewOrigin, ViewDerived:
		return View(s), true
	}
	return "", false
}

// Ticket is captured when a request is issued. Derived responses must match
// the generation; origin and upload responses must match the epoch.
type Ticket struct {
	Generation uint64 `json:"generation"`
	Epoch      uint64 `json:"epoch"`
}

// ViewSnapshot is the public state of one view.
type ViewSnapshot struct {
	URL             string          `json:"url,omitempty"`
	Query           string          `json:"query"`
	Loaded          bool            `json:"loaded"`
	MetadataPending bool            `json:"metadata_pending"`
	Metadata        domain.Metadata `json:"metadata"`
}

// Snapshot is a copy of the session taken inside the loop.
type Snapshot struct {
	SessionID  string        `json:"session_id"`
	State      State         `json:"state"`
	Hash       string        `json:"hash"`
	Query      string        `json:"query"`
	Params     []query.Param `json:"params"`
	Generation uint64        `json:"generation"`
	Epoch      uint64        `json:"epoch"`
	Origin     ViewSnapshot  `json:"origin"`
	Derived    ViewSnapshot  `json:"derived"`
	Displayed  View          `json:"displayed,omitempty"`
	Pending    int           `json:"notifications_pending"`
}

// PanelView is a panel definition plus its current values.
type PanelView struct {
	Name     query.PanelName   `json:"name"`
	Gate     string            `json:"gate,omitempty"`
	Requires string            `json:"requires,omitempty"`
	Fields   []FieldView       `json:"fields"`
	Values   query.State       `json:"values"`
	Swatches map[string]string `json:"swatches,omitempty"`
	Partial  query.Partial     `json:"partial"`
}

type FieldView struct {
	Key     string      `json:"key"`
	Kind    string      `json:"kind"`
	Policy  string      `json:"policy"`
	Default query.Value `json:"default"`
	Options []string    `json:"options,omitempty"`
}

func panelView(f *query.Form) PanelView {
	p := f.Panel()
	state := f.State()
	pv := PanelView{
		Name:     p.Name,
		Gate:     p.Gate,
		Requires: p.Requires,
		Values:   state,
		Partial:  f.Partial(),
	}
	for _, fd := range p.Fields {
		pv.Fields = append(pv.Fields, FieldView{
			Key:     fd.Key,
			Kind:    fd.Kind.String(),
			Policy:  fd.Policy.Name,
			Default: fd.Default,
			Options: fd.Options,
		})
		if fd.Policy.Name == query.Color.Name {
			if pv.Swatches == nil {
				pv.Swatches = map[string]string{}
			}
			pv.Swatches[fd.Key] = query.SwatchColor(state[fd.Key].S)
		}
	}
	if pv.Partial == nil {
		pv.Partial = query.Partial{}
	}
	return pv
}
