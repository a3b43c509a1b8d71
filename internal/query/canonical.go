package query

import (
	"net/url"
	"strings"
)

// Param is one key/value pair of a query.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Partial is the ordered output of a single panel.
type Partial []Param

// Canonical is the merged query in panel order, then field declaration order.
// The zero value encodes to "" which tells kimg to use its defaults.
type Canonical []Param

// Encode serializes the query keeping insertion order.
// url.Values is not used because Encode sorts by key.
func (c Canonical) Encode() string {
	if len(c) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range c {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

func (c Canonical) String() string { return c.Encode() }

func (c Canonical) Get(key string) (string, bool) {
	for _, p := range c {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func (c Canonical) Equal(other Canonical) bool {
	return c.Encode() == other.Encode()
}

func (c Canonical) IsEmpty() bool { return len(c) == 0 }

// Map flattens the query for JSON views. Order is lost.
func (c Canonical) Map() map[string]string {
	m := make(map[string]string, len(c))
	for _, p := range c {
		m[p.Key] = p.Value
	}
	return m
}

func (p Partial) Get(key string) (string, bool) {
	return Canonical(p).Get(key)
}

func (p Partial) Map() map[string]string {
	return Canonical(p).Map()
}
