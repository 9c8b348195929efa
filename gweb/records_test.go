// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTables_RepeatedSectionMatchesKeys(t *testing.T) {
	for k := Kind(0); k < numKinds; k++ {
		table := ResponseTable(k)
		if table.Repeated == nil {
			require.Nil(t, table.RowKeys(), k.String())
			require.Equal(t, table.Keys, table.Scalars(), k.String())
			continue
		}
		rs := table.Repeated
		require.Equal(t, RepeatedKey, rs.Key)
		require.Equal(t, len(table.Keys), rs.Start+rs.Width, "%s: repeated section must close the table", k)
		require.Len(t, table.RowKeys(), rs.Width)
	}
}

func TestTables_AccessorsReturnCopies(t *testing.T) {
	table := MessageTable(KindLogin)
	table.Keys[FieldLoginEmail] = "mutated"
	require.Equal(t, "email", MessageTable(KindLogin).Keys[FieldLoginEmail])

	resp := ResponseTable(KindConnPrefQuery)
	resp.Repeated.Width = 1
	require.Equal(t, 7, ResponseTable(KindConnPrefQuery).Repeated.Width)
}

func TestTables_UnregisteredKindIsEmpty(t *testing.T) {
	for _, k := range []Kind{-1, numKinds, numKinds + 5} {
		require.Empty(t, MessageTable(k).Keys)
		require.Nil(t, ResponseTable(k).Repeated)
		require.Empty(t, NewMessage(k).Fields)
	}
}

func TestKind_String(t *testing.T) {
	require.Equal(t, APIUpdateProfile, KindProfile.String())
	require.Equal(t, "unknown", Kind(-1).String())
	require.False(t, numKinds.Valid())
}

func TestResponse_ReleaseIsIdempotent(t *testing.T) {
	resp := AcquireResponse(KindConnChannelQuery)
	resp.Set(RespListID, "u1")
	resp.AddRow().Set(RowChannelID, "u1")
	resp.AddRow() // partially populated row

	resp.Release()
	require.Empty(t, resp.Rows)
	require.False(t, resp.Fields.Has(RespListID))

	require.NotPanics(t, resp.Release)
}

func TestResponse_AcquireResetsRecycledContainer(t *testing.T) {
	resp := AcquireResponse(KindConnRequestQuery)
	resp.Set(RespListCount, "9")
	resp.AddRow().Set(RowRequestFlag, FlagOpen)
	resp.Release()

	next := AcquireResponse(KindAvatarQuery)
	defer next.Release()
	require.Equal(t, KindAvatarQuery, next.Kind)
	require.Len(t, next.Fields, 2)
	require.Empty(t, next.Rows)
	for i := range next.Fields {
		require.False(t, next.Fields.Has(i))
	}
	require.Equal(t, Status{}, next.Status)
}

func TestResponse_AddRowWithoutRepeatedSectionPanics(t *testing.T) {
	resp := AcquireResponse(KindRegistration)
	defer resp.Release()
	require.Panics(t, func() { resp.AddRow() })
}

func TestResponse_DropLastRow(t *testing.T) {
	resp := AcquireResponse(KindConnPrefQuery)
	defer resp.Release()
	resp.AddRow().Set(RowPrefID, "a")
	resp.AddRow().Set(RowPrefID, "b")

	resp.DropLastRow()
	require.Len(t, resp.Rows, 1)
	v, _ := resp.Rows[0].Get(RowPrefID)
	require.Equal(t, "a", v)

	resp.DropLastRow()
	resp.DropLastRow()
	require.Empty(t, resp.Rows)
}

func TestOutcomeStatusTable(t *testing.T) {
	cases := map[Outcome]Status{
		OutcomeOK:        {CodeOK, DescOK},
		OutcomeNoRecord:  {CodeNotFound, DescRecordNotFound},
		OutcomeDuplicate: {CodeNotFound, DescDuplicateEntry},
		OutcomeUnknown:   {CodeNotFound, DescUnknownError},
		OutcomeNoMemory:  {CodeNotFound, DescOutOfMemory},
		Outcome(42):      {CodeNotFound, DescUnknownError},
	}
	for o, want := range cases {
		require.Equal(t, want, StatusFor(o), o.String())
	}
}
