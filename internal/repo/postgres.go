package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository {
	return &Repository{db: d, log: log}
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

// LoadHistory bulk-loads the whole notification ledger for the cycle's
// in-memory dedup index. sent_at stays textual end to end so rows with
// corrupt timestamps reach the index, which treats them conservatively.
// Retention of old rows is an external concern.
func (r *Repository) LoadHistory(ctx context.Context) ([]domain.HistoryRecord, error) {
	const q = `SELECT id, task_key, rule_type, "to", sent_at,
		COALESCE(status,''), COALESCE(level,''), COALESCE(response,'')
		FROM reminder_history`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.HistoryRecord
	for rows.Next() {
		var rec domain.HistoryRecord
		var rule string
		if err := rows.Scan(&rec.ID, &rec.TaskKey, &rule, &rec.To, &rec.SentAt, &rec.Status, &rec.Level, &rec.Response); err != nil {
			return nil, err
		}
		rec.Rule = domain.RuleCode(rule)
		out = append(out, rec)
	}
	return out, rows.Err()
}

const insertHistoryQ = `INSERT INTO reminder_history(task_key, rule_type, "to", sent_at, status, level, response)
	VALUES($1,$2,$3,$4,$5,$6,$7)`

// InsertHistoryBatch appends the cycle's records in one round trip.
func (r *Repository) InsertHistoryBatch(ctx context.Context, recs []domain.HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertHistoryQ, rec.TaskKey, string(rec.Rule), rec.To, rec.SentAt, rec.Status, rec.Level, rec.Response)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// InsertHistory appends a single record; the per-row fallback path when the
// batch fails.
func (r *Repository) InsertHistory(ctx context.Context, rec domain.HistoryRecord) error {
	_, err := r.db.Pool.Exec(ctx, insertHistoryQ,
		rec.TaskKey, string(rec.Rule), rec.To, rec.SentAt, rec.Status, rec.Level, rec.Response)
	return err
}

// Employees loads the email -> chat group mapping used for delivery fallback.
func (r *Repository) Employees(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT email, COALESCE(group_id,'') FROM employees`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var email, groupID string
		if err := rows.Scan(&email, &groupID); err != nil {
			return nil, err
		}
		if email != "" {
			out[email] = groupID
		}
	}
	return out, rows.Err()
}

// Cycle runs

func (r *Repository) StartCycleRun(ctx context.Context) (int64, error) {
	const q = `INSERT INTO cycle_runs(started_at, success) VALUES(now(), false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishCycleRun(ctx context.Context, id int64, scanned, attempted, sent int, success bool, errStr string) error {
	const q = `UPDATE cycle_runs SET finished_at=now(), tasks_scanned=$2, attempted=$3, sent=$4, success=$5, error=$6 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, scanned, attempted, sent, success, errStr)
	return err
}

type LastRun struct {
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	TasksScanned int        `json:"tasks_scanned"`
	Attempted    int        `json:"attempted"`
	Sent         int        `json:"sent"`
	Success      bool       `json:"success"`
	Error        string     `json:"error"`
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT started_at, finished_at,
		coalesce(tasks_scanned,0), coalesce(attempted,0), coalesce(sent,0),
		coalesce(success,false), coalesce(error,'')
		FROM cycle_runs ORDER BY id DESC LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q)
	lr := &LastRun{}
	if err := row.Scan(&lr.StartedAt, &lr.FinishedAt, &lr.TasksScanned, &lr.Attempted, &lr.Sent, &lr.Success, &lr.Error); err != nil {
		return nil, err
	}
	return lr, nil
}
