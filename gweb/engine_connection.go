// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// whereClause accumulates AND-ed conditions. Each %s in a condition takes the next
// numbered placeholder, so placeholders always appear in ascending order.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, vals ...any) {
	marks := make([]any, len(vals))
	for i := range vals {
		marks[i] = "$" + strconv.Itoa(len(w.args)+i+1)
	}
	w.conds = append(w.conds, fmt.Sprintf(cond, marks...))
	w.args = append(w.args, vals...)
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// fetchList returns the total number of rows matching w and at most MaxListRows of them
func (e *Engine) fetchList(ctx context.Context, op, table, columns, order string, w *whereClause) (int, [][]sql.NullString, error) {
	var total int
	if err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+w.String(), w.args...,
	).Scan(&total); err != nil {
		return 0, nil, e.queryErr(op, err)
	}
	if total == 0 {
		return 0, nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT %d",
		columns, table, w.String(), order, e.config.MaxListRows)
	rows, err := e.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return 0, nil, e.queryErr(op, err)
	}
	defer rows.Close()

	width := strings.Count(columns, ",") + 1
	var out [][]sql.NullString
	for rows.Next() {
		vals := make([]sql.NullString, width)
		dest := make([]any, width)
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return 0, nil, e.queryErr(op, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, e.queryErr(op, err)
	}
	return total, out, nil
}

// enrichRow attaches the peer's display name and avatar to row. The row is dropped
// from resp when the peer cannot be read.
func (e *Engine) enrichRow(ctx context.Context, op string, resp *Response, row Record, peer string, fname, lname, url int) {
	p, err := e.lookupPeer(ctx, peer)
	if err != nil {
		e.logger.Warn("Dropping list row, peer lookup failed", "op", op, "peer", peer, "error", err)
		resp.DropLastRow()
		return
	}
	setNull(row, fname, p.fname)
	setNull(row, lname, p.lname)
	setNull(row, url, p.url)
}

func setListCounts(resp *Response, countIdx, returnedIdx, total int) {
	resp.Set(countIdx, strconv.Itoa(total))
	resp.Set(returnedIdx, strconv.Itoa(len(resp.Rows)))
}

func (e *Engine) handleConnRequest(ctx context.Context, msg Message, resp *Response) error {
	const op = APIConnRequest
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldConnRequestID, FieldConnRequestToID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldConnRequestID)
	peer, _ := msg.Get(FieldConnRequestToID)
	if uid == peer {
		return fmt.Errorf("%w: connection request to self", ErrNoRecord)
	}
	if err := e.requireUser(ctx, op, uid); err != nil {
		return err
	}
	if err := e.requireUser(ctx, op, peer); err != nil {
		return err
	}

	flag, hasFlag := msg.Get(FieldConnRequestFlag)
	if !hasFlag {
		flag = FlagOpen
	}

	var (
		stmts    []statement
		channels int
	)
	switch flag {
	case FlagOpen:
		// Sent by the requester: uid asks peer
		current, found, err := e.requestFlag(ctx, uid, peer)
		if err != nil {
			return e.queryErr(op, err)
		}
		if current == FlagClosed {
			return fmt.Errorf("%w: connection %s -> %s already established", ErrDuplicate, uid, peer)
		}
		if !found {
			stmts = append(stmts, stmt(
				`INSERT INTO conn_request (from_uid, to_uid, flag, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
				uid, peer, FlagOpen, arg(msg, FieldConnRequestMessage), e.timestamp()))
		} else if m, ok := msg.Get(FieldConnRequestMessage); ok {
			stmts = append(stmts, stmt(
				`UPDATE conn_request SET flag = $1, message = $2 WHERE from_uid = $3 AND to_uid = $4`,
				FlagOpen, m, uid, peer))
		} else {
			stmts = append(stmts, stmt(
				`UPDATE conn_request SET flag = $1 WHERE from_uid = $2 AND to_uid = $3`,
				FlagOpen, uid, peer))
		}
		resp.Set(RespConnRequestID, uid)
		resp.Set(RespConnRequestToID, peer)

	case "":
		// Withdrawn by the requester
		st := stmt(`DELETE FROM conn_request WHERE from_uid = $1 AND to_uid = $2`, uid, peer)
		st.mustAffect = true
		stmts = append(stmts, st, dropChannels(uid, peer))
		resp.Set(RespConnRequestID, uid)
		resp.Set(RespConnRequestToID, peer)

	case FlagClosed, FlagRejected:
		// Answered by the recipient: uid answers the request peer sent
		current, found, err := e.requestFlag(ctx, peer, uid)
		if err != nil {
			return e.queryErr(op, err)
		}
		if !found {
			return fmt.Errorf("%w: no request %s -> %s", ErrNoRecord, peer, uid)
		}
		if current != flag {
			stmts = append(stmts, stmt(
				`UPDATE conn_request SET flag = $1 WHERE from_uid = $2 AND to_uid = $3`,
				flag, peer, uid))
			if flag == FlagClosed {
				fanout, err := e.channelFanout(ctx, peer, uid)
				if err != nil {
					return e.queryErr(op, err)
				}
				stmts = append(stmts, fanout...)
				channels = len(fanout)
			} else if current == FlagClosed {
				// the connection is torn down with its channels
				stmts = append(stmts, dropChannels(peer, uid))
			}
		}
		resp.Set(RespConnRequestID, peer)
		resp.Set(RespConnRequestToID, uid)

	default:
		return fmt.Errorf("invalid connection request flag %q", flag)
	}

	if err := e.runTx(ctx, op, stmts); err != nil {
		return err
	}
	resp.Set(RespConnRequestFlag, flag)
	resp.Set(RespConnRequestChannels, strconv.Itoa(channels))
	return nil
}

// dropChannels deletes the channels fanned out for the request requester -> target
func dropChannels(requester, target string) statement {
	return stmt(`DELETE FROM conn_channel WHERE from_uid = $1 AND to_uid = $2`, requester, target)
}

func (e *Engine) requestFlag(ctx context.Context, from, to string) (string, bool, error) {
	var flag sql.NullString
	err := e.db.QueryRowContext(ctx,
		`SELECT flag FROM conn_request WHERE from_uid = $1 AND to_uid = $2`, from, to,
	).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return flag.String, true, nil
}

// channelFanout builds one channel insert per public preference of target, or a single
// default channel when target declares none
func (e *Engine) channelFanout(ctx context.Context, requester, target string) ([]statement, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT pref_type, pref_value FROM conn_preference WHERE uid = $1 AND visibility = $2 ORDER BY pref_type`,
		target, VisibilityPublic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pref struct {
		typ   string
		value sql.NullString
	}
	var prefs []pref
	for rows.Next() {
		var p pref
		if err := rows.Scan(&p.typ, &p.value); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		prefs = append(prefs, pref{typ: DefaultChannelType})
	}

	created := e.timestamp()
	out := make([]statement, 0, len(prefs))
	for _, p := range prefs {
		var value any
		if p.value.Valid {
			value = p.value.String
		}
		out = append(out, stmt(
			`INSERT INTO conn_channel (channel_id, from_uid, to_uid, pref_type, pref_value, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), requester, target, p.typ, value, created))
	}
	return out, nil
}

func (e *Engine) handleConnRequestQuery(ctx context.Context, msg Message, resp *Response) error {
	const op = APIConnRequestQuery
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldConnRequestQueryID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldConnRequestQueryID)

	var w whereClause
	switch dir, _ := msg.Get(FieldConnRequestQueryDirection); dir {
	case DirectionIn:
		w.add("to_uid = %s", uid)
	case DirectionOut:
		w.add("from_uid = %s", uid)
	case "":
		w.add("(from_uid = %s OR to_uid = %s)", uid, uid)
	default:
		return fmt.Errorf("invalid request direction %q", dir)
	}
	if flag, ok := msg.Get(FieldConnRequestQueryFlag); ok && flag != "" {
		w.add("flag = %s", flag)
	}

	total, rows, err := e.fetchList(ctx, op, "conn_request",
		"from_uid, to_uid, flag, message, created_at", "created_at DESC, from_uid, to_uid", &w)
	if err != nil {
		return err
	}

	for _, r := range rows {
		row := resp.AddRow()
		setNull(row, RowRequestID, r[0])
		setNull(row, RowRequestToID, r[1])
		setNull(row, RowRequestFlag, r[2])
		setNull(row, RowRequestMessage, r[3])
		setNull(row, RowRequestCreated, r[4])
		peer := r[0].String
		if peer == uid {
			peer = r[1].String
		}
		e.enrichRow(ctx, op, resp, row, peer, RowRequestFname, RowRequestLname, RowRequestAvatarURL)
	}

	resp.Set(RespListID, uid)
	setListCounts(resp, RespListCount, RespListReturned, total)
	return nil
}

func (e *Engine) handleConnChannel(ctx context.Context, msg Message, resp *Response) error {
	const op = APIConnChannel
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldConnChannelID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldConnChannelID)
	if err := e.requireUser(ctx, op, uid); err != nil {
		return err
	}

	channelID, ok := msg.Get(FieldConnChannelChannelID)
	if !ok || channelID == "" {
		if err := requireFields(msg, FieldConnChannelToID, FieldConnChannelType); err != nil {
			return err
		}
		peer, _ := msg.Get(FieldConnChannelToID)
		typ, _ := msg.Get(FieldConnChannelType)
		if typ == "" || peer == uid {
			return fmt.Errorf("%w: nothing to create", ErrNoRecord)
		}
		if err := e.requireUser(ctx, op, peer); err != nil {
			return err
		}
		channelID = uuid.NewString()
		if err := e.runTx(ctx, op, []statement{stmt(
			`INSERT INTO conn_channel (channel_id, from_uid, to_uid, pref_type, pref_value, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
			channelID, uid, peer, typ, arg(msg, FieldConnChannelValue), e.timestamp()),
		}); err != nil {
			return err
		}
		resp.Set(RespConnChannelChannelID, channelID)
		return nil
	}

	owned, err := e.rowExists(ctx,
		`SELECT 1 FROM conn_channel WHERE channel_id = $1 AND (from_uid = $2 OR to_uid = $3)`,
		channelID, uid, uid)
	if err != nil {
		return e.queryErr(op, err)
	}
	if !owned {
		return fmt.Errorf("%w: channel %s", ErrNoRecord, channelID)
	}

	var st statement
	typ, hasType := msg.Get(FieldConnChannelType)
	value, hasValue := msg.Get(FieldConnChannelValue)
	switch {
	case hasType && typ == "":
		st = stmt(`DELETE FROM conn_channel WHERE channel_id = $1`, channelID)
	case hasType && hasValue:
		st = stmt(`UPDATE conn_channel SET pref_type = $1, pref_value = $2 WHERE channel_id = $3`, typ, value, channelID)
	case hasType:
		st = stmt(`UPDATE conn_channel SET pref_type = $1 WHERE channel_id = $2`, typ, channelID)
	case hasValue:
		st = stmt(`UPDATE conn_channel SET pref_value = $1 WHERE channel_id = $2`, value, channelID)
	default:
		resp.Set(RespConnChannelChannelID, channelID)
		return nil
	}
	st.mustAffect = true
	if err := e.runTx(ctx, op, []statement{st}); err != nil {
		return err
	}
	resp.Set(RespConnChannelChannelID, channelID)
	return nil
}

func (e *Engine) handleConnChannelQuery(ctx context.Context, msg Message, resp *Response) error {
	const op = APIConnChannelQuery
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldConnChannelQueryID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldConnChannelQueryID)

	var w whereClause
	w.add("(from_uid = %s OR to_uid = %s)", uid, uid)
	if typ, ok := msg.Get(FieldConnChannelQueryType); ok && typ != "" {
		w.add("pref_type = %s", typ)
	}

	total, rows, err := e.fetchList(ctx, op, "conn_channel",
		"channel_id, from_uid, to_uid, pref_type, pref_value, created_at", "created_at DESC, channel_id", &w)
	if err != nil {
		return err
	}

	for _, r := range rows {
		row := resp.AddRow()
		setNull(row, RowChannelChannelID, r[0])
		setNull(row, RowChannelID, r[1])
		setNull(row, RowChannelToID, r[2])
		setNull(row, RowChannelType, r[3])
		setNull(row, RowChannelValue, r[4])
		setNull(row, RowChannelCreated, r[5])
		peer := r[1].String
		if peer == uid {
			peer = r[2].String
		}
		e.enrichRow(ctx, op, resp, row, peer, RowChannelFname, RowChannelLname, RowChannelAvatarURL)
	}

	resp.Set(RespListID, uid)
	setListCounts(resp, RespListCount, RespListReturned, total)
	return nil
}

func validVisibility(v string) bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

func (e *Engine) handleConnPref(ctx context.Context, msg Message, resp *Response) error {
	const op = APIConnPref
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldConnPrefID, FieldConnPrefType); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldConnPrefID)
	typ, _ := msg.Get(FieldConnPrefType)
	if err := e.requireUser(ctx, op, uid); err != nil {
		return err
	}

	value, hasValue := msg.Get(FieldConnPrefValue)
	visibility, hasVisibility := msg.Get(FieldConnPrefVisibility)
	if hasValue && value == "" {
		return e.runTx(ctx, op, []statement{stmt(
			`DELETE FROM conn_preference WHERE uid = $1 AND pref_type = $2`, uid, typ)})
	}
	if hasVisibility && !validVisibility(visibility) {
		return fmt.Errorf("invalid preference visibility %q", visibility)
	}
	if !hasValue && !hasVisibility {
		return fmt.Errorf("%w: %s requires value or visibility", ErrNoRecord, op)
	}

	exists, err := e.rowExists(ctx,
		`SELECT 1 FROM conn_preference WHERE uid = $1 AND pref_type = $2`, uid, typ)
	if err != nil {
		return e.queryErr(op, err)
	}

	var st statement
	switch {
	case !exists && !hasValue:
		return fmt.Errorf("%w: preference %s of %s", ErrNoRecord, typ, uid)
	case !exists:
		if !hasVisibility {
			visibility = VisibilityPublic
		}
		st = stmt(`INSERT INTO conn_preference (uid, pref_type, pref_value, visibility) VALUES ($1, $2, $3, $4)`,
			uid, typ, value, visibility)
	case hasValue && hasVisibility:
		st = stmt(`UPDATE conn_preference SET pref_value = $1, visibility = $2 WHERE uid = $3 AND pref_type = $4`,
			value, visibility, uid, typ)
	case hasValue:
		st = stmt(`UPDATE conn_preference SET pref_value = $1 WHERE uid = $2 AND pref_type = $3`,
			value, uid, typ)
	default:
		st = stmt(`UPDATE conn_preference SET visibility = $1 WHERE uid = $2 AND pref_type = $3`,
			visibility, uid, typ)
	}
	return e.runTx(ctx, op, []statement{st})
}

func (e *Engine) handleConnPrefQuery(ctx context.Context, msg Message, resp *Response) error {
	const op = APIConnPrefQuery
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	var w whereClause
	if uid, ok := msg.Get(FieldConnPrefQueryID); ok && uid != "" {
		w.add("uid = %s", uid)
	}
	if typ, ok := msg.Get(FieldConnPrefQueryType); ok && typ != "" {
		w.add("pref_type = %s", typ)
	}
	if vis, ok := msg.Get(FieldConnPrefQueryVisibility); ok && vis != "" {
		if !validVisibility(vis) {
			return fmt.Errorf("invalid preference visibility %q", vis)
		}
		w.add("visibility = %s", vis)
	}

	total, rows, err := e.fetchList(ctx, op, "conn_preference",
		"uid, pref_type, pref_value, visibility", "uid, pref_type", &w)
	if err != nil {
		return err
	}

	for _, r := range rows {
		row := resp.AddRow()
		setNull(row, RowPrefID, r[0])
		setNull(row, RowPrefType, r[1])
		setNull(row, RowPrefValue, r[2])
		setNull(row, RowPrefVisibility, r[3])
		e.enrichRow(ctx, op, resp, row, r[0].String, RowPrefFname, RowPrefLname, RowPrefAvatarURL)
	}

	setListCounts(resp, RespPrefListCount, RespPrefListReturned, total)
	return nil
}
