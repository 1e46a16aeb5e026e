package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

// PostgresStore はチェックポイントと結果行を PostgreSQL に永続化します。
// 複数プロセスから同じセッションを観測したい運用（Webフロント併設など）向けで、
// DATABASE_URL が設定されている場合に FileStore の代わりに選択されます。
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS manga_sessions (
	session_key       TEXT PRIMARY KEY,
	stage             TEXT NOT NULL,
	status            TEXT NOT NULL,
	progress_current  INT NOT NULL DEFAULT 0,
	progress_total    INT NOT NULL DEFAULT 0,
	data              JSONB NOT NULL,
	source_version_id TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS manga_results (
	session_key TEXT PRIMARY KEY,
	result      JSONB NOT NULL,
	complete    BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL
);`

// NewPostgresStore は接続プールを張り、必要なテーブルを用意して初期化します。
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("PostgreSQL への接続に失敗しました: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL への疎通確認に失敗しました: %w", err)
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("スキーマの初期化に失敗しました: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close は接続プールを閉じます。
func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

// sessionRow はDBの行とのマッピング用の内部構造体です。
type sessionRow struct {
	SessionKey      string    `db:"session_key"`
	Stage           string    `db:"stage"`
	Status          string    `db:"status"`
	ProgressCurrent int       `db:"progress_current"`
	ProgressTotal   int       `db:"progress_total"`
	Data            []byte    `db:"data"`
	SourceVersionID string    `db:"source_version_id"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Save は UPSERT で工程・進捗・データを1文の中で不可分に保存します。
func (ps *PostgresStore) Save(ctx context.Context, session *domain.GenerationSession) error {
	data, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("チェックポイントのエンコードに失敗しました: %w", err)
	}

	session.UpdatedAt = time.Now()
	const q = `
		INSERT INTO manga_sessions
			(session_key, stage, status, progress_current, progress_total, data, source_version_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_key) DO UPDATE SET
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			progress_current = EXCLUDED.progress_current,
			progress_total = EXCLUDED.progress_total,
			data = EXCLUDED.data,
			source_version_id = EXCLUDED.source_version_id,
			updated_at = EXCLUDED.updated_at`
	_, err = ps.pool.Exec(ctx, q,
		session.SessionKey, string(session.Stage), string(session.Status),
		session.Progress.Current, session.Progress.Total,
		data, session.SourceVersionID, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("チェックポイントの保存に失敗しました: %w", err)
	}
	return nil
}

// Get はチェックポイントを読み出します。行が無ければ (nil, nil) です。
func (ps *PostgresStore) Get(ctx context.Context, key string) (*domain.GenerationSession, error) {
	var row sessionRow
	const q = `SELECT session_key, stage, status, progress_current, progress_total, data, source_version_id, updated_at
		FROM manga_sessions WHERE session_key = $1`
	if err := pgxscan.Get(ctx, ps.pool, &row, q, key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("チェックポイントの取得に失敗しました: %w", err)
	}

	var data domain.CheckpointData
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("チェックポイントのデコードに失敗しました: %w", err)
	}

	return &domain.GenerationSession{
		SessionKey:      row.SessionKey,
		Stage:           domain.Stage(row.Stage),
		Status:          domain.Status(row.Status),
		Progress:        domain.Progress{Current: row.ProgressCurrent, Total: row.ProgressTotal},
		Data:            &data,
		SourceVersionID: row.SourceVersionID,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

// SetStatus は状態フラグだけを更新します。
func (ps *PostgresStore) SetStatus(ctx context.Context, key string, status domain.Status) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE manga_sessions SET status = $2, updated_at = now() WHERE session_key = $1`,
		key, string(status),
	)
	if err != nil {
		return fmt.Errorf("状態の更新に失敗しました: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("セッション '%s' が見つかりません", key)
	}
	return nil
}

// GetStatus は現在の状態を返します。行が無ければ空文字です。
func (ps *PostgresStore) GetStatus(ctx context.Context, key string) (domain.Status, error) {
	var status string
	err := pgxscan.Get(ctx, ps.pool, &status,
		`SELECT status FROM manga_sessions WHERE session_key = $1`, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("状態の取得に失敗しました: %w", err)
	}
	return domain.Status(status), nil
}

// Delete はチェックポイント行と結果行の両方を破棄します。
func (ps *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := ps.pool.Exec(ctx, `DELETE FROM manga_results WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("結果行の削除に失敗しました: %w", err)
	}
	if _, err := ps.pool.Exec(ctx, `DELETE FROM manga_sessions WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("セッション行の削除に失敗しました: %w", err)
	}
	return nil
}

func (ps *PostgresStore) saveResult(ctx context.Context, key string, result *domain.MangaResult, complete bool) error {
	result.SessionKey = key
	result.Complete = complete
	result.UpdatedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("結果のエンコードに失敗しました: %w", err)
	}

	const q = `
		INSERT INTO manga_results (session_key, result, complete, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_key) DO UPDATE SET
			result = EXCLUDED.result,
			complete = EXCLUDED.complete,
			updated_at = EXCLUDED.updated_at`
	if _, err := ps.pool.Exec(ctx, q, key, data, complete, result.UpdatedAt); err != nil {
		return fmt.Errorf("結果の保存に失敗しました: %w", err)
	}
	return nil
}

// SavePartialResult は途中結果として結果行を上書きします。
func (ps *PostgresStore) SavePartialResult(ctx context.Context, key string, result *domain.MangaResult) error {
	return ps.saveResult(ctx, key, result, false)
}

// SaveFinalResult は完了済みの最終結果として結果行を上書きします。
func (ps *PostgresStore) SaveFinalResult(ctx context.Context, key string, result *domain.MangaResult) error {
	return ps.saveResult(ctx, key, result, true)
}

// GetResult は現在の結果行を返します。行が無ければ (nil, nil) です。
func (ps *PostgresStore) GetResult(ctx context.Context, key string) (*domain.MangaResult, error) {
	var data []byte
	err := pgxscan.Get(ctx, ps.pool, &data,
		`SELECT result FROM manga_results WHERE session_key = $1`, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("結果の取得に失敗しました: %w", err)
	}

	var result domain.MangaResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("結果のデコードに失敗しました: %w", err)
	}
	return &result, nil
}
