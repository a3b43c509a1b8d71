package query

import (
	"fmt"
	"maps"

	"github.com/baechuer/kimg-panel/internal/domain"
)

type PanelName string

const (
	Basic     PanelName = "basic"
	Scale     PanelName = "scale"
	Crop      PanelName = "crop"
	Watermark PanelName = "watermark"
)

// State maps field keys to their current raw values.
type State map[string]Value

// Panel is a static group of fields. A panel with a Gate encodes nothing
// while its gate field is false. Requires names a string field that must be
// non-empty for the panel to encode anything.
type Panel struct {
	Name     PanelName
	Gate     string
	Requires string
	Fields   []Field
}

func (p Panel) Field(key string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

func (p Panel) Defaults() State {
	s := make(State, len(p.Fields))
	for _, f := range p.Fields {
		s[f.Key] = f.Default
	}
	return s
}

// Coerce builds a full state from decoded values. Missing keys take the
// field default; unknown keys are rejected.
func (p Panel) Coerce(values map[string]any) (State, error) {
	for k := range values {
		if _, ok := p.Field(k); !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", domain.ErrInvalidValue, p.Name, k)
		}
	}
	s := p.Defaults()
	for _, f := range p.Fields {
		raw, ok := values[f.Key]
		if !ok || raw == nil {
			continue
		}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, err
		}
		s[f.Key] = v
	}
	return s, nil
}

// Encode converts a panel state into its partial query. The gate is checked
// before any other field.
func (p Panel) Encode(s State) Partial {
	if p.Gate != "" && !s.value(p, p.Gate).B {
		return Partial{}
	}
	if p.Requires != "" && s.value(p, p.Requires).S == "" {
		return Partial{}
	}
	out := make(Partial, 0, len(p.Fields))
	for _, f := range p.Fields {
		v := s.value(p, f.Key)
		if !f.Include(v) {
			continue
		}
		out = append(out, Param{Key: f.Key, Value: f.Encode(v)})
	}
	return out
}

func (s State) value(p Panel, key string) Value {
	if v, ok := s[key]; ok {
		return v
	}
	f, _ := p.Field(key)
	return f.Default
}

// ChangeFunc receives a panel's partial query after every edit.
type ChangeFunc func(panel PanelName, partial Partial)

// Form is a mounted panel. It starts at the panel defaults and reports each
// edit through its ChangeFunc. Mounting does not report anything.
type Form struct {
	panel    Panel
	state    State
	onChange ChangeFunc
}

func (p Panel) Mount(onChange ChangeFunc) *Form {
	return &Form{panel: p, state: p.Defaults(), onChange: onChange}
}

// Set replaces the whole form state and pushes the new partial.
// On error the previous state is kept and nothing is pushed.
func (f *Form) Set(values map[string]any) error {
	s, err := f.panel.Coerce(values)
	if err != nil {
		return err
	}
	f.state = s
	if f.onChange != nil {
		f.onChange(f.panel.Name, f.panel.Encode(s))
	}
	return nil
}

func (f *Form) Panel() Panel { return f.panel }

func (f *Form) State() State { return maps.Clone(f.state) }

func (f *Form) Partial() Partial { return f.panel.Encode(f.state) }
