// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"sync"
)

// Record is an ordered set of optional string slots laid out by a Table.
// A nil slot means the field is absent (omitted on the wire, NULL in the store).
type Record []*string

// Get returns the slot value and whether it is present
func (r Record) Get(i int) (string, bool) {
	if i < 0 || i >= len(r) || r[i] == nil {
		return "", false
	}
	return *r[i], true
}

// Has reports whether slot i is present
func (r Record) Has(i int) bool {
	return i >= 0 && i < len(r) && r[i] != nil
}

// Set stores v into slot i
func (r Record) Set(i int, v string) {
	r[i] = &v
}

// Clear marks every slot absent
func (r Record) Clear() {
	for i := range r {
		r[i] = nil
	}
}

// Message is the decoded form of an inbound API payload.
// Fields are laid out by the message table of Kind.
type Message struct {
	Kind   Kind
	Fields Record
}

// NewMessage allocates an empty message of kind k
func NewMessage(k Kind) Message {
	return Message{Kind: k, Fields: make(Record, len(messageTableOf(k).Keys))}
}

// Get returns field i of the message
func (m Message) Get(i int) (string, bool) {
	return m.Fields.Get(i)
}

// Has reports whether field i of the message is present
func (m Message) Has(i int) bool {
	return m.Fields.Has(i)
}

// Set stores v into field i of the message
func (m Message) Set(i int, v string) Message {
	m.Fields.Set(i, v)
	return m
}

// Status is the code/description pair carried by every response
type Status struct {
	Code        string
	Description string
}

// Response is the structured result of a persistence handler prior to encoding.
// Fields holds the scalar slots, Rows the repeated section (list kinds only).
type Response struct {
	Kind   Kind
	Status Status
	Fields Record
	Rows   []Record

	width    int
	released bool
}

var responsePool = sync.Pool{
	New: func() any { return &Response{} },
}

// AcquireResponse returns an empty response container for kind k,
// reusing a released one when available
func AcquireResponse(k Kind) *Response {
	resp := responsePool.Get().(*Response)
	table := responseTableOf(k)
	n := len(table.Scalars())
	if cap(resp.Fields) >= n {
		resp.Fields = resp.Fields[:n]
		resp.Fields.Clear()
	} else {
		resp.Fields = make(Record, n)
	}
	resp.Kind = k
	resp.Status = Status{}
	resp.Rows = resp.Rows[:0]
	resp.width = 0
	if table.Repeated != nil {
		resp.width = table.Repeated.Width
	}
	resp.released = false
	return resp
}

// Set stores v into scalar slot i
func (r *Response) Set(i int, v string) {
	r.Fields.Set(i, v)
}

// AddRow appends an empty row to the repeated section and returns it.
// It panics when the kind declares no repeated section.
func (r *Response) AddRow() Record {
	if r.width == 0 {
		panic("gweb: response kind " + r.Kind.String() + " has no repeated section")
	}
	row := make(Record, r.width)
	r.Rows = append(r.Rows, row)
	return row
}

// DropLastRow removes the most recently added row
func (r *Response) DropLastRow() {
	if n := len(r.Rows); n > 0 {
		r.Rows[n-1].Clear()
		r.Rows[n-1] = nil
		r.Rows = r.Rows[:n-1]
	}
}

// Release clears every row individually, then the record itself, and hands the
// container back to the pool. Calling it more than once is a no-op.
func (r *Response) Release() {
	if r == nil || r.released {
		return
	}
	for i := range r.Rows {
		r.Rows[i].Clear()
		r.Rows[i] = nil
	}
	r.Rows = r.Rows[:0]
	r.Fields.Clear()
	r.Status = Status{}
	r.released = true
	responsePool.Put(r)
}
