// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

// Kind discriminates message and response records. Every API owns exactly one kind.
type Kind int

const (
	KindRegistration Kind = iota
	KindLogin
	KindProfile
	KindProfileQuery
	KindAvatar
	KindAvatarQuery
	KindConnRequest
	KindConnRequestQuery
	KindConnChannel
	KindConnChannelQuery
	KindConnPref
	KindConnPrefQuery
	numKinds
)

var kindNames = [numKinds]string{
	KindRegistration:     APIRegistration,
	KindLogin:            APILogin,
	KindProfile:          APIUpdateProfile,
	KindProfileQuery:     APIProfileQuery,
	KindAvatar:           APIUpdateAvatar,
	KindAvatarQuery:      APIAvatarQuery,
	KindConnRequest:      APIConnRequest,
	KindConnRequestQuery: APIConnRequestQuery,
	KindConnChannel:      APIConnChannel,
	KindConnChannelQuery: APIConnChannelQuery,
	KindConnPref:         APIConnPref,
	KindConnPrefQuery:    APIConnPrefQuery,
}

// String returns the API name owning the kind
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Valid reports whether k is a registered kind
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

// RepeatedSection describes the repeated row segment of a response table.
// Row keys are Keys[Start:Start+Width] of the owning table.
type RepeatedSection struct {
	Key   string
	Start int
	Width int
}

// Table maps ordinal field slots to wire keys.
type Table struct {
	Keys     []string
	Repeated *RepeatedSection
}

// Scalars returns the wire keys of the scalar slots
func (t Table) Scalars() []string {
	if t.Repeated == nil {
		return t.Keys
	}
	return t.Keys[:t.Repeated.Start]
}

// RowKeys returns the wire keys of one repeated row, or nil when the table has no repeated section
func (t Table) RowKeys() []string {
	if t.Repeated == nil {
		return nil
	}
	return t.Keys[t.Repeated.Start : t.Repeated.Start+t.Repeated.Width]
}

// Message field ordinals

const (
	FieldRegistrationFname = iota
	FieldRegistrationLname
	FieldRegistrationEmail
	FieldRegistrationPhone
	FieldRegistrationPassword
)

const (
	FieldLoginEmail = iota
	FieldLoginPassword
)

const (
	FieldProfileID = iota
	FieldProfileAddress1
	FieldProfileAddress2
	FieldProfileAddress3
	FieldProfileCountry
	FieldProfileState
	FieldProfilePincode
	FieldProfileFacebookHandle
	FieldProfileTwitterHandle
)

const (
	FieldProfileQueryID = iota
)

const (
	FieldAvatarID = iota
	FieldAvatarURL
)

const (
	FieldAvatarQueryID = iota
)

const (
	FieldConnRequestID = iota
	FieldConnRequestToID
	FieldConnRequestFlag
	FieldConnRequestMessage
)

const (
	FieldConnRequestQueryID = iota
	FieldConnRequestQueryFlag
	FieldConnRequestQueryDirection
)

const (
	FieldConnChannelID = iota
	FieldConnChannelChannelID
	FieldConnChannelToID
	FieldConnChannelType
	FieldConnChannelValue
)

const (
	FieldConnChannelQueryID = iota
	FieldConnChannelQueryType
)

const (
	FieldConnPrefID = iota
	FieldConnPrefType
	FieldConnPrefValue
	FieldConnPrefVisibility
)

const (
	FieldConnPrefQueryID = iota
	FieldConnPrefQueryType
	FieldConnPrefQueryVisibility
)

// Response field ordinals

const (
	RespRegistrationID = iota
)

// Login and profile_query share one response layout
const (
	RespProfileID = iota
	RespProfileFname
	RespProfileLname
	RespProfileEmail
	RespProfilePhone
	RespProfileAddress1
	RespProfileAddress2
	RespProfileAddress3
	RespProfileCountry
	RespProfileState
	RespProfilePincode
	RespProfileFacebookHandle
	RespProfileTwitterHandle
	RespProfileAvatarURL
)

const (
	RespAvatarQueryID = iota
	RespAvatarQueryURL
)

const (
	RespConnRequestID = iota
	RespConnRequestToID
	RespConnRequestFlag
	RespConnRequestChannels
)

const (
	RespConnChannelChannelID = iota
)

// List query scalars
const (
	RespListID = iota
	RespListCount
	RespListReturned
)

const (
	RespPrefListCount = iota
	RespPrefListReturned
)

// Row ordinals of conn_request_query
const (
	RowRequestID = iota
	RowRequestToID
	RowRequestFlag
	RowRequestMessage
	RowRequestCreated
	RowRequestFname
	RowRequestLname
	RowRequestAvatarURL
)

// Row ordinals of conn_channel_query
const (
	RowChannelChannelID = iota
	RowChannelID
	RowChannelToID
	RowChannelType
	RowChannelValue
	RowChannelCreated
	RowChannelFname
	RowChannelLname
	RowChannelAvatarURL
)

// Row ordinals of conn_pref_query
const (
	RowPrefID = iota
	RowPrefType
	RowPrefValue
	RowPrefVisibility
	RowPrefFname
	RowPrefLname
	RowPrefAvatarURL
)

var messageTables = [numKinds]Table{
	KindRegistration: {Keys: []string{
		FieldRegistrationFname:    "fname",
		FieldRegistrationLname:    "lname",
		FieldRegistrationEmail:    "email",
		FieldRegistrationPhone:    "phone",
		FieldRegistrationPassword: "password",
	}},
	KindLogin: {Keys: []string{
		FieldLoginEmail:    "email",
		FieldLoginPassword: "password",
	}},
	KindProfile: {Keys: []string{
		FieldProfileID:             "id",
		FieldProfileAddress1:       "add1",
		FieldProfileAddress2:       "add2",
		FieldProfileAddress3:       "add3",
		FieldProfileCountry:        "country",
		FieldProfileState:          "state",
		FieldProfilePincode:        "pincode",
		FieldProfileFacebookHandle: "facebook_h",
		FieldProfileTwitterHandle:  "twitter_h",
	}},
	KindProfileQuery: {Keys: []string{
		FieldProfileQueryID: "id",
	}},
	KindAvatar: {Keys: []string{
		FieldAvatarID:  "id",
		FieldAvatarURL: "url",
	}},
	KindAvatarQuery: {Keys: []string{
		FieldAvatarQueryID: "id",
	}},
	KindConnRequest: {Keys: []string{
		FieldConnRequestID:      "id",
		FieldConnRequestToID:    "to_id",
		FieldConnRequestFlag:    "flag",
		FieldConnRequestMessage: "message",
	}},
	KindConnRequestQuery: {Keys: []string{
		FieldConnRequestQueryID:        "id",
		FieldConnRequestQueryFlag:      "flag",
		FieldConnRequestQueryDirection: "direction",
	}},
	KindConnChannel: {Keys: []string{
		FieldConnChannelID:        "id",
		FieldConnChannelChannelID: "channel_id",
		FieldConnChannelToID:      "to_id",
		FieldConnChannelType:      "type",
		FieldConnChannelValue:     "value",
	}},
	KindConnChannelQuery: {Keys: []string{
		FieldConnChannelQueryID:   "id",
		FieldConnChannelQueryType: "type",
	}},
	KindConnPref: {Keys: []string{
		FieldConnPrefID:         "id",
		FieldConnPrefType:       "type",
		FieldConnPrefValue:      "value",
		FieldConnPrefVisibility: "visibility",
	}},
	KindConnPrefQuery: {Keys: []string{
		FieldConnPrefQueryID:         "id",
		FieldConnPrefQueryType:       "type",
		FieldConnPrefQueryVisibility: "visibility",
	}},
}

var profileResponseKeys = []string{
	RespProfileID:             "id",
	RespProfileFname:          "fname",
	RespProfileLname:          "lname",
	RespProfileEmail:          "email",
	RespProfilePhone:          "phone",
	RespProfileAddress1:       "add1",
	RespProfileAddress2:       "add2",
	RespProfileAddress3:       "add3",
	RespProfileCountry:        "country",
	RespProfileState:          "state",
	RespProfilePincode:        "pincode",
	RespProfileFacebookHandle: "facebook_h",
	RespProfileTwitterHandle:  "twitter_h",
	RespProfileAvatarURL:      "url",
}

var responseTables = [numKinds]Table{
	KindRegistration: {Keys: []string{
		RespRegistrationID: "id",
	}},
	KindLogin:        {Keys: profileResponseKeys},
	KindProfile:      {Keys: []string{}},
	KindProfileQuery: {Keys: profileResponseKeys},
	KindAvatar:       {Keys: []string{}},
	KindAvatarQuery: {Keys: []string{
		RespAvatarQueryID:  "id",
		RespAvatarQueryURL: "url",
	}},
	KindConnRequest: {Keys: []string{
		RespConnRequestID:       "id",
		RespConnRequestToID:     "to_id",
		RespConnRequestFlag:     "flag",
		RespConnRequestChannels: "channels",
	}},
	KindConnRequestQuery: {
		Keys: []string{
			"id", "count", "returned",
			// row
			"id", "to_id", "flag", "message", "created", "fname", "lname", "url",
		},
		Repeated: &RepeatedSection{Key: RepeatedKey, Start: 3, Width: 8},
	},
	KindConnChannel: {Keys: []string{
		RespConnChannelChannelID: "channel_id",
	}},
	KindConnChannelQuery: {
		Keys: []string{
			"id", "count", "returned",
			// row
			"channel_id", "id", "to_id", "type", "value", "created", "fname", "lname", "url",
		},
		Repeated: &RepeatedSection{Key: RepeatedKey, Start: 3, Width: 9},
	},
	KindConnPref: {Keys: []string{}},
	KindConnPrefQuery: {
		Keys: []string{
			"count", "returned",
			// row
			"id", "type", "value", "visibility", "fname", "lname", "url",
		},
		Repeated: &RepeatedSection{Key: RepeatedKey, Start: 2, Width: 7},
	},
}

// MessageTable returns a copy of the message table of kind k, or an empty table
// when k is not a registered kind
func MessageTable(k Kind) Table {
	return cloneTable(messageTableOf(k))
}

// ResponseTable returns a copy of the response table of kind k
func ResponseTable(k Kind) Table {
	return cloneTable(responseTableOf(k))
}

func messageTableOf(k Kind) Table {
	if !k.Valid() {
		return Table{}
	}
	return messageTables[k]
}

func responseTableOf(k Kind) Table {
	if !k.Valid() {
		return Table{}
	}
	return responseTables[k]
}

func cloneTable(t Table) Table {
	out := Table{Keys: append([]string(nil), t.Keys...)}
	if t.Repeated != nil {
		rs := *t.Repeated
		out.Repeated = &rs
	}
	return out
}
