package hotlist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

// PlaceholderScore is the sentinel score carried by placeholder entries.
const PlaceholderScore = -1.0

// Kind discriminates bucket entries on the wire.
type Kind string

const (
	KindReal        Kind = "real"
	KindPlaceholder Kind = "placeholder"
)

// Entry is one accepted bucket entry: either Real or Placeholder.
type Entry interface {
	Kind() Kind
	EntryID() string
	EntryScore() float64
	sealed()
}

// Real is an accepted catalog item, frozen at acceptance time.
type Real struct {
	ID        string             `json:"id"`
	Source    catalog.SourceKind `json:"source"`
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Tags      []string           `json:"tags,omitempty"`
	Stats     map[string]float64 `json:"stats,omitempty"`
	Score     float64            `json:"score"`
	Summary   string             `json:"summary,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
	AddedAt   string             `json:"added_at"`
	TaskKeys  []string           `json:"task_keys,omitempty"`
}

func (r Real) Kind() Kind          { return KindReal }
func (r Real) EntryID() string     { return r.ID }
func (r Real) EntryScore() float64 { return r.Score }
func (Real) sealed()               {}

// Placeholder keeps an otherwise empty task visible. It makes no claim
// about any real item.
type Placeholder struct {
	TaskKey string `json:"task_key"`
	Index   int    `json:"index"`
	AddedAt string `json:"added_at"`
}

func (p Placeholder) Kind() Kind          { return KindPlaceholder }
func (p Placeholder) EntryID() string     { return fmt.Sprintf("placeholder:%s:%d", p.TaskKey, p.Index) }
func (p Placeholder) EntryScore() float64 { return PlaceholderScore }
func (Placeholder) sealed()               {}

// MarshalEntry encodes an entry with its kind tag.
func MarshalEntry(e Entry) ([]byte, error) {
	switch v := e.(type) {
	case Real:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			Real
		}{KindReal, v})
	case Placeholder:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			Placeholder
			Score float64 `json:"score"`
		}{KindPlaceholder, v, PlaceholderScore})
	}
	return nil, fmt.Errorf("unknown entry type %T", e)
}

// UnmarshalEntry decodes a kind-tagged entry. Untagged objects are read as Real.
func UnmarshalEntry(data []byte) (Entry, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case KindPlaceholder:
		var p Placeholder
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindReal, "":
		var r Real
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown entry kind %q", head.Kind)
}

// Bucket is the ordered, append-only entry log of one task.
type Bucket []Entry

func (b Bucket) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(b))
	for _, e := range b {
		data, err := MarshalEntry(e)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

func (b *Bucket) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Bucket, 0, len(raw))
	for _, r := range raw {
		e, err := UnmarshalEntry(r)
		if err != nil {
			return err
		}
		out = append(out, e)
	}
	*b = out
	return nil
}

// Counts returns the number of real and placeholder entries.
func (b Bucket) Counts() (reals, placeholders int) {
	for _, e := range b {
		if e.Kind() == KindPlaceholder {
			placeholders++
		} else {
			reals++
		}
	}
	return reals, placeholders
}
