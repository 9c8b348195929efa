// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// arg returns field i as a statement argument, NULL when absent
func arg(msg Message, i int) any {
	if v, ok := msg.Get(i); ok {
		return v
	}
	return nil
}

// requireFields fails with no-record unless every listed field is present
func requireFields(msg Message, fields ...int) error {
	keys := messageTables[msg.Kind].Keys
	for _, i := range fields {
		if !msg.Has(i) {
			return fmt.Errorf("%w: %s requires %q", ErrNoRecord, msg.Kind, keys[i])
		}
	}
	return nil
}

func (e *Engine) handleRegistration(ctx context.Context, msg Message, resp *Response) error {
	const op = APIRegistration
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldRegistrationFname, FieldRegistrationEmail,
		FieldRegistrationPhone, FieldRegistrationPassword); err != nil {
		return err
	}
	email, _ := msg.Get(FieldRegistrationEmail)
	phone, _ := msg.Get(FieldRegistrationPhone)
	uid := e.config.Derive(phone, email)

	var one int
	err = e.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_reg_info WHERE uid = $1 OR email = $2`, uid, email,
	).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: user %s already registered", ErrDuplicate, uid)
	case !errors.Is(err, sql.ErrNoRows):
		return e.queryErr(op, err)
	}

	stmts := []statement{
		stmt(`INSERT INTO user_reg_info (uid, first_name, last_name, email, password, start_date)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uid, arg(msg, FieldRegistrationFname), arg(msg, FieldRegistrationLname),
			email, arg(msg, FieldRegistrationPassword), e.timestamp()),
		stmt(`INSERT INTO user_phone (uid, phone_type, phone_number) VALUES ($1, $2, $3)`,
			uid, PhoneMobile, phone),
	}
	if err := e.runTx(ctx, op, stmts); err != nil {
		return err
	}

	e.logger.Info("User registered", "uid", uid)
	resp.Set(RespRegistrationID, uid)
	return nil
}

func (e *Engine) handleLogin(ctx context.Context, msg Message, resp *Response) error {
	const op = APILogin
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldLoginEmail, FieldLoginPassword); err != nil {
		return err
	}

	var uid string
	err = e.db.QueryRowContext(ctx,
		`SELECT uid FROM user_reg_info WHERE email = $1 AND password = $2`,
		arg(msg, FieldLoginEmail), arg(msg, FieldLoginPassword),
	).Scan(&uid)
	if err != nil {
		return e.queryErr(op, err)
	}
	return e.loadProfile(ctx, op, uid, resp)
}

func (e *Engine) handleProfileQuery(ctx context.Context, msg Message, resp *Response) error {
	const op = APIProfileQuery
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldProfileQueryID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldProfileQueryID)
	return e.loadProfile(ctx, op, uid, resp)
}

// loadProfile fills a login/profile_query response with one joined read. The social
// network join yields one row per network; each row is folded into its named field.
func (e *Engine) loadProfile(ctx context.Context, op, uid string, resp *Response) error {
	rows, err := e.db.QueryContext(ctx, `
		SELECT r.uid, r.first_name, r.last_name, r.email, p.phone_number,
		       a.add1, a.add2, a.add3, a.country, a.state, a.pincode,
		       s.network_type, s.handle, r.avatar_url
		FROM user_reg_info r
		LEFT JOIN user_phone p ON p.uid = r.uid AND p.phone_type = $1
		LEFT JOIN user_address a ON a.uid = r.uid AND a.address_type = $2
		LEFT JOIN user_social_network s ON s.uid = r.uid
		WHERE r.uid = $3`, PhoneMobile, AddressPermanent, uid)
	if err != nil {
		return e.queryErr(op, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			id                                        string
			fname, lname, email, phone                sql.NullString
			add1, add2, add3, country, state, pincode sql.NullString
			network, handle, avatar                   sql.NullString
		)
		if err := rows.Scan(&id, &fname, &lname, &email, &phone,
			&add1, &add2, &add3, &country, &state, &pincode,
			&network, &handle, &avatar); err != nil {
			return e.queryErr(op, err)
		}
		if !found {
			found = true
			resp.Set(RespProfileID, id)
			setNull(resp.Fields, RespProfileFname, fname)
			setNull(resp.Fields, RespProfileLname, lname)
			setNull(resp.Fields, RespProfileEmail, email)
			setNull(resp.Fields, RespProfilePhone, phone)
			setNull(resp.Fields, RespProfileAddress1, add1)
			setNull(resp.Fields, RespProfileAddress2, add2)
			setNull(resp.Fields, RespProfileAddress3, add3)
			setNull(resp.Fields, RespProfileCountry, country)
			setNull(resp.Fields, RespProfileState, state)
			setNull(resp.Fields, RespProfilePincode, pincode)
			setNull(resp.Fields, RespProfileAvatarURL, avatar)
		}
		switch network.String {
		case NetworkFacebook:
			setNull(resp.Fields, RespProfileFacebookHandle, handle)
		case NetworkTwitter:
			setNull(resp.Fields, RespProfileTwitterHandle, handle)
		}
	}
	if err := rows.Err(); err != nil {
		return e.queryErr(op, err)
	}
	if !found {
		return fmt.Errorf("%w: user %s", ErrNoRecord, uid)
	}
	return nil
}

// addressColumns pairs the address fields of update_profile with their store columns
var addressColumns = []struct {
	field  int
	column string
}{
	{FieldProfileAddress1, "add1"},
	{FieldProfileAddress2, "add2"},
	{FieldProfileAddress3, "add3"},
	{FieldProfileCountry, "country"},
	{FieldProfileState, "state"},
	{FieldProfilePincode, "pincode"},
}

var socialFields = []struct {
	field   int
	network string
}{
	{FieldProfileFacebookHandle, NetworkFacebook},
	{FieldProfileTwitterHandle, NetworkTwitter},
}

func (e *Engine) handleProfile(ctx context.Context, msg Message, resp *Response) error {
	const op = APIUpdateProfile
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldProfileID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldProfileID)
	if err := e.requireUser(ctx, op, uid); err != nil {
		return err
	}

	var stmts []statement

	st, err := e.addressStatement(ctx, msg, uid)
	if err != nil {
		return e.queryErr(op, err)
	}
	if st != nil {
		stmts = append(stmts, *st)
	}

	for _, sf := range socialFields {
		handle, ok := msg.Get(sf.field)
		if !ok {
			continue
		}
		if handle == "" {
			stmts = append(stmts, stmt(
				`DELETE FROM user_social_network WHERE uid = $1 AND network_type = $2`,
				uid, sf.network))
			continue
		}
		exists, err := e.rowExists(ctx,
			`SELECT 1 FROM user_social_network WHERE uid = $1 AND network_type = $2`, uid, sf.network)
		if err != nil {
			return e.queryErr(op, err)
		}
		if exists {
			stmts = append(stmts, stmt(
				`UPDATE user_social_network SET handle = $1 WHERE uid = $2 AND network_type = $3`,
				handle, uid, sf.network))
		} else {
			stmts = append(stmts, stmt(
				`INSERT INTO user_social_network (uid, network_type, handle) VALUES ($1, $2, $3)`,
				uid, sf.network, handle))
		}
	}

	return e.runTx(ctx, op, stmts)
}

// addressStatement decides the address block mutation: nil when no address field is
// present, a delete when every present field is empty, otherwise an update or insert
// touching only the present columns.
func (e *Engine) addressStatement(ctx context.Context, msg Message, uid string) (*statement, error) {
	var (
		columns []string
		values  []any
		empty   = true
	)
	for _, ac := range addressColumns {
		v, ok := msg.Get(ac.field)
		if !ok {
			continue
		}
		columns = append(columns, ac.column)
		values = append(values, v)
		if v != "" {
			empty = false
		}
	}
	if len(columns) == 0 {
		return nil, nil
	}
	if empty {
		st := stmt(`DELETE FROM user_address WHERE uid = $1 AND address_type = $2`, uid, AddressPermanent)
		return &st, nil
	}

	exists, err := e.rowExists(ctx,
		`SELECT 1 FROM user_address WHERE uid = $1 AND address_type = $2`, uid, AddressPermanent)
	if err != nil {
		return nil, err
	}

	if exists {
		sets := make([]string, len(columns))
		for i, c := range columns {
			sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		}
		n := len(values)
		st := stmt(fmt.Sprintf(`UPDATE user_address SET %s WHERE uid = $%d AND address_type = $%d`,
			strings.Join(sets, ", "), n+1, n+2),
			append(values, uid, AddressPermanent)...)
		return &st, nil
	}

	marks := make([]string, len(columns)+2)
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	st := stmt(fmt.Sprintf(`INSERT INTO user_address (uid, address_type, %s) VALUES (%s)`,
		strings.Join(columns, ", "), strings.Join(marks, ", ")),
		append([]any{uid, AddressPermanent}, values...)...)
	return &st, nil
}

func (e *Engine) rowExists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) handleAvatar(ctx context.Context, msg Message, resp *Response) error {
	const op = APIUpdateAvatar
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldAvatarID, FieldAvatarURL); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldAvatarID)
	if err := e.requireUser(ctx, op, uid); err != nil {
		return err
	}

	st := stmt(`UPDATE user_reg_info SET avatar_url = $1 WHERE uid = $2`, arg(msg, FieldAvatarURL), uid)
	st.mustAffect = true
	return e.runTx(ctx, op, []statement{st})
}

func (e *Engine) handleAvatarQuery(ctx context.Context, msg Message, resp *Response) error {
	const op = APIAvatarQuery
	release, err := e.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	if err := requireFields(msg, FieldAvatarQueryID); err != nil {
		return err
	}
	uid, _ := msg.Get(FieldAvatarQueryID)

	var url sql.NullString
	err = e.db.QueryRowContext(ctx, `SELECT avatar_url FROM user_reg_info WHERE uid = $1`, uid).Scan(&url)
	if err != nil {
		return e.queryErr(op, err)
	}
	resp.Set(RespAvatarQueryID, uid)
	setNull(resp.Fields, RespAvatarQueryURL, url)
	return nil
}
