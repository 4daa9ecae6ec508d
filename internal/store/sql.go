package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"collectroute/internal/model"
)

// SQL is a database/sql backed store shared by the postgres and sqlite dialects.
// Queries are written with ? placeholders and rebound per dialect.
type SQL struct {
	db *sql.DB
	d  dialect
}

type dialect struct {
	name      string
	forUpdate string
	rebind    func(string) string
	isUnique  func(error) bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const dateLayout = "2006-01-02"

const routeCols = `id, name, team_id, driver_id, status, route_date, start_ms, end_ms, duration_min,
	total_houses, completed_houses, created_by, created_ms, updated_ms, version`

const houseCols = `id, route_id, team_id, address, latitude, longitude, status, notes, ord, created_ms, updated_ms`

const historyCols = `seq, id, route_id, user_id, team_id, house_id, action, ts_ms, notes`

// DB exposes the underlying handle for migrations and health checks.
func (s *SQL) DB() *sql.DB { return s.db }

// Dialect returns "postgres" or "sqlite".
func (s *SQL) Dialect() string { return s.d.name }

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQL) Close() error                   { return s.db.Close() }

func (s *SQL) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&sqlTx{q: tx, d: s.d}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	return getRoute(ctx, s.db, s.d, routeID, "")
}

func (s *SQL) GetHouse(ctx context.Context, houseID string) (model.House, error) {
	return getHouse(ctx, s.db, s.d, houseID, "")
}

func (s *SQL) ListHouses(ctx context.Context, routeID string) ([]model.House, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+houseCols+` FROM houses WHERE route_id=? ORDER BY ord ASC`), routeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.House{}
	for rows.Next() {
		h, err := scanHouse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQL) ListHistory(ctx context.Context, routeID string, ascending bool) ([]model.HistoryEntry, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	q := fmt.Sprintf(`SELECT %s FROM history WHERE route_id=? ORDER BY ts_ms %s, seq %s`, historyCols, order, order)
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), routeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.HistoryEntry{}
	for rows.Next() {
		var (
			e       model.HistoryEntry
			houseID sql.NullString
			notes   sql.NullString
			ts      int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.RouteID, &e.UserID, &e.TeamID, &houseID, &e.Action, &ts, &notes); err != nil {
			return nil, err
		}
		e.HouseID, e.Notes, e.Timestamp = houseID.String, notes.String, fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Snapshot reads all matching routes with a single statement, which is a consistent
// point-in-time view on both dialects.
func (s *SQL) Snapshot(ctx context.Context, f Filter) ([]model.Route, error) {
	var (
		where []string
		args  []any
	)
	if f.TeamID != "" {
		where = append(where, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.DriverID != "" {
		where = append(where, "driver_id=?")
		args = append(args, f.DriverID)
	}
	q := `SELECT ` + routeCols + ` FROM routes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY route_date ASC, id ASC"
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Route{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) GetUsers(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := map[string]model.User{}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT id, display_name, team_id FROM users WHERE id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			u    model.User
			team sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &team); err != nil {
			return nil, err
		}
		u.TeamID = team.String
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *SQL) UpsertUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return model.Invalidf("user id is required")
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO users(id, display_name, team_id) VALUES (?,?,?)
		ON CONFLICT (id) DO UPDATE SET display_name=excluded.display_name, team_id=excluded.team_id`),
		u.ID, u.DisplayName, nullIfEmpty(u.TeamID))
	return err
}

func (s *SQL) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO webhook_deliveries(id, event_type, url, secret, payload, status, attempts, next_attempt_ms, created_ms)
		VALUES (?,?,?,?,?,?,0,?,?)`), id, eventType, url, secret, payload, DeliveryPending, millis(now), millis(now))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT id, event_type, url, secret, payload, status, attempts, next_attempt_ms
		FROM webhook_deliveries WHERE status=? AND next_attempt_ms<=? ORDER BY created_ms ASC LIMIT ?`),
		DeliveryPending, millis(time.Now()), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []WebhookDelivery
	for rows.Next() {
		var (
			d    WebhookDelivery
			next int64
		)
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &next); err != nil {
			return nil, err
		}
		d.NextAttemptAt = fromMillis(next)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	status := DeliveryPending
	if success {
		status = DeliveryDelivered
	}
	next := millis(time.Now())
	if nextAttemptAt != nil {
		next = millis(*nextAttemptAt)
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE webhook_deliveries SET status=?, attempts=attempts+1, next_attempt_ms=?,
		last_error=?, response_code=?, latency_ms=? WHERE id=?`), status, next, lastError, responseCode, latencyMs, id)
	return expectOne(res, err, "delivery "+id)
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE webhook_deliveries SET status=?, attempts=attempts+1,
		last_error=?, response_code=?, latency_ms=? WHERE id=?`), DeliveryFailed, lastError, responseCode, latencyMs, id)
	return expectOne(res, err, "delivery "+id)
}

type sqlTx struct {
	q querier
	d dialect
}

func (t *sqlTx) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	return getRoute(ctx, t.q, t.d, routeID, t.d.forUpdate)
}

func (t *sqlTx) GetHouse(ctx context.Context, houseID string) (model.House, error) {
	return getHouse(ctx, t.q, t.d, houseID, t.d.forUpdate)
}

func (t *sqlTx) InsertRoute(ctx context.Context, r model.Route) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`INSERT INTO routes(`+routeCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		r.ID, r.Name, r.TeamID, nullIfEmpty(r.DriverID), string(r.Status), r.Date.Format(dateLayout),
		nullMillis(r.StartTime), nullMillis(r.EndTime), nullInt(r.Duration),
		r.TotalHouses, r.CompletedHouses, r.CreatedBy, millis(r.CreatedAt), millis(r.UpdatedAt), r.Version)
	if err != nil && t.d.isUnique(err) {
		return model.Invalidf("route %s already exists", r.ID)
	}
	return err
}

func (t *sqlTx) UpdateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE routes SET status=?, start_ms=?, end_ms=?, duration_min=?, updated_ms=?, version=version+1
		WHERE id=? AND version=?`),
		string(r.Status), nullMillis(r.StartTime), nullMillis(r.EndTime), nullInt(r.Duration), millis(r.UpdatedAt), r.ID, r.Version)
	if err != nil {
		return model.Route{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Route{}, err
	} else if n == 0 {
		if _, err := t.GetRoute(ctx, r.ID); err != nil {
			return model.Route{}, err
		}
		return model.Route{}, model.ErrConflict
	}
	return t.GetRoute(ctx, r.ID)
}

func (t *sqlTx) IncrementTotalHouses(ctx context.Context, routeID string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE routes SET total_houses=total_houses+1, updated_ms=?, version=version+1 WHERE id=?`),
		millis(at), routeID)
	return expectOne(res, err, "route "+routeID)
}

func (t *sqlTx) IncrementCompletedHouses(ctx context.Context, routeID string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE routes SET completed_houses=completed_houses+1, updated_ms=?, version=version+1
		WHERE id=? AND completed_houses < total_houses`), millis(at), routeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := t.GetRoute(ctx, routeID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (t *sqlTx) InsertHouse(ctx context.Context, h model.House) error {
	var n int
	if err := t.q.QueryRowContext(ctx, t.d.rebind(`SELECT COUNT(*) FROM houses WHERE route_id=? AND ord=?`), h.RouteID, h.Order).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return model.Invalidf("order %d already used on route %s", h.Order, h.RouteID)
	}
	_, err := t.q.ExecContext(ctx, t.d.rebind(`INSERT INTO houses(`+houseCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		h.ID, h.RouteID, h.TeamID, h.Address, h.Latitude, h.Longitude, string(h.Status), nullIfEmpty(h.Notes), h.Order,
		millis(h.CreatedAt), millis(h.UpdatedAt))
	if err != nil && t.d.isUnique(err) {
		return model.Invalidf("order %d already used on route %s", h.Order, h.RouteID)
	}
	return err
}

func (t *sqlTx) UpdateHouse(ctx context.Context, h model.House) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE houses SET status=?, notes=?, updated_ms=? WHERE id=?`),
		string(h.Status), nullIfEmpty(h.Notes), millis(h.UpdatedAt), h.ID)
	return expectOne(res, err, "house "+h.ID)
}

func (t *sqlTx) AppendHistory(ctx context.Context, e model.HistoryEntry) error {
	_, err := t.q.ExecContext(ctx, t.d.rebind(`INSERT INTO history(id, route_id, user_id, team_id, house_id, action, ts_ms, notes)
		VALUES (?,?,?,?,?,?,?,?)`),
		e.ID, e.RouteID, e.UserID, e.TeamID, nullIfEmpty(e.HouseID), string(e.Action), millis(e.Timestamp), nullIfEmpty(e.Notes))
	return err
}

type scanner interface{ Scan(dest ...any) error }

func getRoute(ctx context.Context, q querier, d dialect, id, suffix string) (model.Route, error) {
	r, err := scanRoute(q.QueryRowContext(ctx, d.rebind(`SELECT `+routeCols+` FROM routes WHERE id=?`+suffix), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, model.NotFoundf("route %s", id)
	}
	return r, err
}

func getHouse(ctx context.Context, q querier, d dialect, id, suffix string) (model.House, error) {
	h, err := scanHouse(q.QueryRowContext(ctx, d.rebind(`SELECT `+houseCols+` FROM houses WHERE id=?`+suffix), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.House{}, model.NotFoundf("house %s", id)
	}
	return h, err
}

func scanRoute(s scanner) (model.Route, error) {
	var (
		r                    model.Route
		driver               sql.NullString
		status, date         string
		start, end, dur      sql.NullInt64
		createdMs, updatedMs int64
	)
	if err := s.Scan(&r.ID, &r.Name, &r.TeamID, &driver, &status, &date, &start, &end, &dur,
		&r.TotalHouses, &r.CompletedHouses, &r.CreatedBy, &createdMs, &updatedMs, &r.Version); err != nil {
		return model.Route{}, err
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return model.Route{}, fmt.Errorf("route %s: bad date %q: %w", r.ID, date, err)
	}
	r.DriverID = driver.String
	r.Status = model.RouteStatus(status)
	r.Date = day
	if start.Valid {
		t := fromMillis(start.Int64)
		r.StartTime = &t
	}
	if end.Valid {
		t := fromMillis(end.Int64)
		r.EndTime = &t
	}
	if dur.Valid {
		v := int(dur.Int64)
		r.Duration = &v
	}
	r.CreatedAt, r.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
	return r, nil
}

func scanHouse(s scanner) (model.House, error) {
	var (
		h                    model.House
		status               string
		notes                sql.NullString
		createdMs, updatedMs int64
	)
	if err := s.Scan(&h.ID, &h.RouteID, &h.TeamID, &h.Address, &h.Latitude, &h.Longitude, &status, &notes, &h.Order,
		&createdMs, &updatedMs); err != nil {
		return model.House{}, err
	}
	h.Status = model.HouseStatus(status)
	h.Notes = notes.String
	h.CreatedAt, h.UpdatedAt = fromMillis(createdMs), fromMillis(updatedMs)
	return h, nil
}

func expectOne(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NotFoundf("%s", what)
	}
	return nil
}

func millis(t time.Time) int64       { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rebindDollar rewrites ? placeholders to $1..$n.
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func rebindNone(q string) string { return q }
