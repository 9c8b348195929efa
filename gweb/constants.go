// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

// API names as they appear as the single top-level key of a wire object
const (
	APIRegistration     = "registration"
	APILogin            = "login"
	APIUpdateProfile    = "update_profile"
	APIProfileQuery     = "profile_query"
	APIUpdateAvatar     = "update_avatar"
	APIAvatarQuery      = "avatar_query"
	APIConnRequest      = "conn_request"
	APIConnRequestQuery = "conn_request_query"
	APIConnChannel      = "conn_channel"
	APIConnChannelQuery = "conn_channel_query"
	APIConnPref         = "conn_pref"
	APIConnPrefQuery    = "conn_pref_query"
)

// Connection request flags
const (
	FlagOpen     = "open"
	FlagClosed   = "closed"
	FlagRejected = "rejected"
)

// Direction values for conn_request_query
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Preference visibility values
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Sub-resource discriminators stored alongside rows
const (
	NetworkFacebook    = "facebook"
	NetworkTwitter     = "twitter"
	AddressPermanent   = "permanent"
	PhoneMobile        = "mobile"
	DefaultChannelType = "default"
)

// Wire status codes and descriptions
const (
	CodeOK       = "200"
	CodeNotFound = "404"

	DescOK               = "OK"
	DescRecordNotFound   = "Record Not Found"
	DescDuplicateEntry   = "Duplicate Entry"
	DescUnknownError     = "Unknown Error"
	DescOutOfMemory      = "Out Of Memory"
	DescResourceNotFound = "Resource Not Found"
)

// RepeatedKey is the wire key of the repeated row section in list responses
const RepeatedKey = "array1"

// utcDateTimeLayout matches the timestamps written into the store
const utcDateTimeLayout = "2006-01-02 15:04:05"
