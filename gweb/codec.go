// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ParseWire tokenizes a wire payload. The payload must be a single JSON object
// in valid UTF-8; field text is stored as received.
func ParseWire(data []byte) (gjson.Result, error) {
	if !utf8.Valid(data) {
		return gjson.Result{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedPayload)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedPayload)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedPayload)
	}
	return root, nil
}

// Decode populates a message of kind k from the API object of a wire payload.
// Keys missing from obj, or set to null, leave their slot absent.
func Decode(k Kind, obj gjson.Result) Message {
	msg := NewMessage(k)
	if !obj.IsObject() {
		return msg
	}
	present := make(map[string]gjson.Result)
	obj.ForEach(func(key, value gjson.Result) bool {
		present[key.String()] = value
		return true
	})
	for i, key := range messageTableOf(k).Keys {
		v, ok := present[key]
		if !ok || v.Type == gjson.Null {
			continue
		}
		msg.Fields.Set(i, fieldText(v))
	}
	return msg
}

// fieldText returns the string form of a wire value: strings unquoted,
// everything else as its literal JSON text
func fieldText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}

// EncodeResponse serializes a response record: the status object first, then every
// present scalar in table order, then the repeated section (if the kind declares one)
// with rows in the order they were added. Error responses carry no repeated section.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil || !resp.Kind.Valid() {
		return nil, fmt.Errorf("encode response: invalid record")
	}
	table := responseTables[resp.Kind]
	scalars := table.Scalars()
	if len(resp.Fields) != len(scalars) {
		return nil, fmt.Errorf("encode %s response: %d scalar slots, table has %d",
			resp.Kind, len(resp.Fields), len(scalars))
	}

	var buf bytes.Buffer
	buf.WriteString(`{"status":{"code":`)
	writeJSONString(&buf, resp.Status.Code)
	buf.WriteString(`,"description":`)
	writeJSONString(&buf, resp.Status.Description)
	buf.WriteByte('}')

	for i, key := range scalars {
		if resp.Fields[i] == nil {
			continue
		}
		buf.WriteByte(',')
		writeJSONString(&buf, key)
		buf.WriteByte(':')
		writeJSONString(&buf, *resp.Fields[i])
	}

	if table.Repeated != nil && resp.Status.Code == CodeOK {
		rowKeys := table.RowKeys()
		buf.WriteByte(',')
		writeJSONString(&buf, table.Repeated.Key)
		buf.WriteString(":[")
		for n, row := range resp.Rows {
			if len(row) != len(rowKeys) {
				return nil, fmt.Errorf("encode %s response: row %d has %d slots, want %d",
					resp.Kind, n, len(row), len(rowKeys))
			}
			if n > 0 {
				buf.WriteByte(',')
			}
			writeObject(&buf, rowKeys, row)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeMessage serializes a message back into its wire object {"<api>":{...}}
func EncodeMessage(msg Message) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeJSONString(&buf, msg.Kind.String())
	buf.WriteByte(':')
	writeObject(&buf, messageTableOf(msg.Kind).Keys, msg.Fields)
	buf.WriteByte('}')
	return buf.Bytes()
}

// QueryToWire translates query-string parameters into the wire object of api,
// using the same field table as the JSON path. Unknown parameters are ignored.
func QueryToWire(api string, values url.Values) ([]byte, error) {
	desc, ok := LookupAPI(api)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, api)
	}
	msg := NewMessage(desc.Kind)
	for i, key := range messageTables[desc.Kind].Keys {
		if values.Has(key) {
			v := values.Get(key)
			if !utf8.ValidString(v) {
				return nil, fmt.Errorf("%w: parameter %s is not valid UTF-8", ErrMalformedPayload, key)
			}
			msg.Fields.Set(i, v)
		}
	}
	return EncodeMessage(msg), nil
}

func writeObject(buf *bytes.Buffer, keys []string, rec Record) {
	buf.WriteByte('{')
	first := true
	for i, key := range keys {
		if i >= len(rec) || rec[i] == nil {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeJSONString(buf, key)
		buf.WriteByte(':')
		writeJSONString(buf, *rec[i])
	}
	buf.WriteByte('}')
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
