// Package quill models the editor's native operation format: a delta is a
// list of insert/retain/delete ops, and a full document is a delta made of
// inserts only. The server never reconciles concurrent edits; it applies
// deltas in receipt order so the debounced saver has a full snapshot to
// persist.
package quill

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"
)

var (
	// ErrInvalidDelta indicates a payload that is not a well-formed delta.
	ErrInvalidDelta = errors.New("quill: invalid delta")
	// ErrNotDocument indicates a delta with retain/delete ops where a full
	// document (insert-only) was required.
	ErrNotDocument = errors.New("quill: delta is not a document")
)

// Op is a single operation. Exactly one of Insert, Retain, Delete is set.
// Insert is a string for text or a map for an embed (image, video).
type Op struct {
	Insert     any            `json:"insert,omitempty"`
	Retain     *int           `json:"retain,omitempty"`
	Delete     *int           `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Delta is an ordered list of ops.
type Delta struct {
	Ops []Op `json:"ops"`
}

// Parse deserializes and validates a delta payload.
func Parse(raw []byte) (Delta, error) {
	if len(raw) == 0 {
		return Delta{}, fmt.Errorf("%w: empty payload", ErrInvalidDelta)
	}
	var d Delta
	if err := json.Unmarshal(raw, &d); err != nil {
		return Delta{}, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	for i, op := range d.Ops {
		if err := op.validate(); err != nil {
			return Delta{}, fmt.Errorf("%w: op %d: %v", ErrInvalidDelta, i, err)
		}
	}
	return d, nil
}

func (op Op) validate() error {
	set := 0
	if op.Insert != nil {
		set++
		switch op.Insert.(type) {
		case string, map[string]any:
		default:
			return errors.New("insert must be a string or an embed object")
		}
	}
	if op.Retain != nil {
		set++
		if *op.Retain <= 0 {
			return errors.New("retain must be positive")
		}
	}
	if op.Delete != nil {
		set++
		if *op.Delete <= 0 {
			return errors.New("delete must be positive")
		}
	}
	if set != 1 {
		return errors.New("exactly one of insert, retain, delete is required")
	}
	return nil
}

// length returns the op's span in editor index units. Embeds count as one.
func (op Op) length() int {
	switch {
	case op.Retain != nil:
		return *op.Retain
	case op.Delete != nil:
		return *op.Delete
	default:
		if s, ok := op.Insert.(string); ok {
			return utf8.RuneCountInString(s)
		}
		return 1
	}
}

// Length returns the total span of the delta.
func (d Delta) Length() int {
	total := 0
	for _, op := range d.Ops {
		total += op.length()
	}
	return total
}

// IsDocument reports whether the delta consists of inserts only.
func (d Delta) IsDocument() bool {
	for _, op := range d.Ops {
		if op.Insert == nil {
			return false
		}
	}
	return true
}

// Marshal serializes the delta back to the wire format.
func (d Delta) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Text extracts the plain text of an insert-only delta. Embeds are skipped.
func (d Delta) Text() string {
	out := ""
	for _, op := range d.Ops {
		if s, ok := op.Insert.(string); ok {
			out += s
		}
	}
	return out
}

// Apply produces the document that results from applying change to doc.
// doc must be insert-only. Retains and deletes that run past the end of the
// document are truncated rather than rejected, matching the editor's own
// leniency.
func Apply(doc, change Delta) (Delta, error) {
	if !doc.IsDocument() {
		return Delta{}, ErrNotDocument
	}
	it := newOpIter(doc.Ops)
	var out []Op
	for _, op := range change.Ops {
		switch {
		case op.Insert != nil:
			out = append(out, Op{Insert: op.Insert, Attributes: op.Attributes})
		case op.Retain != nil:
			remaining := *op.Retain
			for remaining > 0 && it.hasNext() {
				piece := it.next(remaining)
				remaining -= piece.length()
				if op.Attributes != nil {
					piece.Attributes = mergeAttributes(piece.Attributes, op.Attributes)
				}
				out = append(out, piece)
			}
		case op.Delete != nil:
			remaining := *op.Delete
			for remaining > 0 && it.hasNext() {
				piece := it.next(remaining)
				remaining -= piece.length()
			}
		}
	}
	for it.hasNext() {
		out = append(out, it.rest())
	}
	return Delta{Ops: compact(out)}, nil
}

// mergeAttributes layers change attributes over base ones. A nil value in
// the change removes the key, which is how the editor clears formatting.
func mergeAttributes(base, change map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(change))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range change {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// compact merges adjacent string inserts that share attributes and drops
// empty ops.
func compact(ops []Op) []Op {
	var out []Op
	for _, op := range ops {
		if s, ok := op.Insert.(string); ok && s == "" {
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			prev, prevOK := last.Insert.(string)
			cur, curOK := op.Insert.(string)
			if prevOK && curOK && attributesEqual(last.Attributes, op.Attributes) {
				last.Insert = prev + cur
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

func attributesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || !reflect.DeepEqual(other, v) {
			return false
		}
	}
	return true
}

// opIter walks a document's ops, splitting string inserts as needed.
type opIter struct {
	ops    []Op
	index  int
	offset int
}

func newOpIter(ops []Op) *opIter {
	return &opIter{ops: ops}
}

func (it *opIter) hasNext() bool {
	return it.index < len(it.ops)
}

// next takes up to n units from the current op.
func (it *opIter) next(n int) Op {
	op := it.ops[it.index]
	s, isText := op.Insert.(string)
	if !isText {
		it.index++
		return Op{Insert: op.Insert, Attributes: op.Attributes}
	}
	runes := []rune(s)
	available := len(runes) - it.offset
	if n >= available {
		piece := string(runes[it.offset:])
		it.index++
		it.offset = 0
		return Op{Insert: piece, Attributes: op.Attributes}
	}
	piece := string(runes[it.offset : it.offset+n])
	it.offset += n
	return Op{Insert: piece, Attributes: op.Attributes}
}

// rest drains the remainder of the current op.
func (it *opIter) rest() Op {
	op := it.ops[it.index]
	if s, isText := op.Insert.(string); isText && it.offset > 0 {
		runes := []rune(s)
		piece := string(runes[it.offset:])
		it.index++
		it.offset = 0
		return Op{Insert: piece, Attributes: op.Attributes}
	}
	it.index++
	it.offset = 0
	return Op{Insert: op.Insert, Attributes: op.Attributes}
}
