// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"

	"github.com/tidwall/gjson"
)

// PersistFunc runs the persistence handler of one API, filling resp.
// The returned error is classified with OutcomeOf.
type PersistFunc func(e *Engine, ctx context.Context, msg Message, resp *Response) error

// API binds a wire name to its decode, encode, persist and destroy functions
type API struct {
	Name     string
	Kind     Kind
	ReadOnly bool // may be served from GET /query/<name>

	Decode  func(obj gjson.Result) Message
	Encode  func(resp *Response) ([]byte, error)
	Persist PersistFunc
	Destroy func(resp *Response)
}

// registry is scanned in this order by dispatch; the first matching name wins.
var registry = [...]API{
	newAPI(KindRegistration, false, (*Engine).handleRegistration),
	newAPI(KindProfile, false, (*Engine).handleProfile),
	newAPI(KindLogin, false, (*Engine).handleLogin),
	newAPI(KindAvatar, false, (*Engine).handleAvatar),
	newAPI(KindProfileQuery, true, (*Engine).handleProfileQuery),
	newAPI(KindAvatarQuery, true, (*Engine).handleAvatarQuery),
	newAPI(KindConnRequest, false, (*Engine).handleConnRequest),
	newAPI(KindConnRequestQuery, true, (*Engine).handleConnRequestQuery),
	newAPI(KindConnChannel, false, (*Engine).handleConnChannel),
	newAPI(KindConnChannelQuery, true, (*Engine).handleConnChannelQuery),
	newAPI(KindConnPref, false, (*Engine).handleConnPref),
	newAPI(KindConnPrefQuery, true, (*Engine).handleConnPrefQuery),
}

var registryIndex = func() map[string]int {
	m := make(map[string]int, len(registry))
	for i, api := range registry {
		m[api.Name] = i
	}
	return m
}()

func newAPI(k Kind, readOnly bool, persist PersistFunc) API {
	return API{
		Name:     k.String(),
		Kind:     k,
		ReadOnly: readOnly,
		Decode: func(obj gjson.Result) Message {
			return Decode(k, obj)
		},
		Encode:  EncodeResponse,
		Persist: persist,
		Destroy: (*Response).Release,
	}
}

// APIs returns the registered API descriptors in dispatch order
func APIs() []API {
	out := make([]API, len(registry))
	copy(out, registry[:])
	return out
}

// LookupAPI returns the descriptor registered under name
func LookupAPI(name string) (API, bool) {
	i, ok := registryIndex[name]
	if !ok {
		return API{}, false
	}
	return registry[i], true
}
