package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

const (
	checkpointFileName = "checkpoint.json"
	resultFileName     = "result.json"
)

// keySanitizer はセッションキーをディレクトリ名として安全な形に置換します。
var keySanitizer = strings.NewReplacer(
	"/", "_",
	`\`, "_",
	":", "_",
	"*", "_",
	"?", "_",
	`"`, "_",
	"<", "_",
	">", "_",
	"|", "_",
)

// FileStore はチェックポイントをローカルディスクにJSONで永続化します。
// セッションごとに1ディレクトリを持ち、一時ファイルへの書き込みと
// rename の組で上書きを不可分にします。
type FileStore struct {
	dataDir string
}

// NewFileStore は保存先ディレクトリを用意して FileStore を初期化します。
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("チェックポイント保存先ディレクトリが未指定です")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("チェックポイントディレクトリの作成に失敗しました (%s): %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (fs *FileStore) sessionDir(key string) string {
	return filepath.Join(fs.dataDir, keySanitizer.Replace(key))
}

// writeAtomic は一時ファイルに書いて fsync してから rename するのだ。
// Save が返った時点でクラッシュしても中途半端なファイルは残らないのだ。
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("一時ファイルの同期に失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("チェックポイントの置き換えに失敗しました: %w", err)
	}
	return nil
}

// Save はセッション全体を1つのJSONとして不可分に保存します。
func (fs *FileStore) Save(_ context.Context, session *domain.GenerationSession) error {
	dir := fs.sessionDir(session.SessionKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("セッションディレクトリの作成に失敗しました: %w", err)
	}

	session.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("チェックポイントのエンコードに失敗しました: %w", err)
	}
	return writeAtomic(filepath.Join(dir, checkpointFileName), data)
}

// Get はチェックポイントを読み出します。未作成なら (nil, nil) です。
func (fs *FileStore) Get(_ context.Context, key string) (*domain.GenerationSession, error) {
	path := filepath.Join(fs.sessionDir(key), checkpointFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("チェックポイントの読み込みに失敗しました: %w", err)
	}

	var session domain.GenerationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("チェックポイントのデコードに失敗しました (%s): %w", path, err)
	}
	return &session, nil
}

// SetStatus は状態フラグだけを書き換えて保存し直します。
func (fs *FileStore) SetStatus(ctx context.Context, key string, status domain.Status) error {
	session, err := fs.Get(ctx, key)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("セッション '%s' が見つかりません", key)
	}
	session.Status = status
	return fs.Save(ctx, session)
}

// GetStatus は現在の状態を返します。セッションが無ければ空文字です。
func (fs *FileStore) GetStatus(ctx context.Context, key string) (domain.Status, error) {
	session, err := fs.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.Status, nil
}

// Delete はセッションディレクトリごと破棄します。
func (fs *FileStore) Delete(_ context.Context, key string) error {
	if err := os.RemoveAll(fs.sessionDir(key)); err != nil {
		return fmt.Errorf("セッション '%s' の削除に失敗しました: %w", key, err)
	}
	return nil
}

func (fs *FileStore) saveResult(key string, result *domain.MangaResult, complete bool) error {
	dir := fs.sessionDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("セッションディレクトリの作成に失敗しました: %w", err)
	}

	result.SessionKey = key
	result.Complete = complete
	result.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("結果のエンコードに失敗しました: %w", err)
	}
	return writeAtomic(filepath.Join(dir, resultFileName), data)
}

// SavePartialResult は途中結果として result.json を上書きします。
func (fs *FileStore) SavePartialResult(_ context.Context, key string, result *domain.MangaResult) error {
	return fs.saveResult(key, result, false)
}

// SaveFinalResult は完了済みの最終結果として result.json を上書きします。
func (fs *FileStore) SaveFinalResult(_ context.Context, key string, result *domain.MangaResult) error {
	return fs.saveResult(key, result, true)
}

// GetResult は現在の結果行を返します。未保存なら (nil, nil) です。
func (fs *FileStore) GetResult(_ context.Context, key string) (*domain.MangaResult, error) {
	path := filepath.Join(fs.sessionDir(key), resultFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("結果の読み込みに失敗しました: %w", err)
	}

	var result domain.MangaResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("結果のデコードに失敗しました (%s): %w", path, err)
	}
	return &result, nil
}

// List は保存済みセッションのキーを名前順で返すのだ。status コマンドで使うのだ。
func (fs *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("セッション一覧の取得に失敗しました: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}
