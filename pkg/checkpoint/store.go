package checkpoint

import (
	"context"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

// Store はセッションのチェックポイントと結果行を永続化する契約です。
// すべてのメソッドは「返ってきた時点で耐久化済み」であることを保証します。
// 呼び出し側は Save の成功を「直後にクラッシュしても残る」と解釈します。
type Store interface {
	// Get はセッションのチェックポイントを取得します。存在しなければ (nil, nil) です。
	Get(ctx context.Context, key string) (*domain.GenerationSession, error)
	// Save は工程・進捗・チェックポイントデータを不可分に保存します。
	Save(ctx context.Context, session *domain.GenerationSession) error
	// SetStatus はセッションの状態フラグだけを更新します（キャンセル等）。
	SetStatus(ctx context.Context, key string, status domain.Status) error
	// GetStatus はセッションの現在の状態を返します。存在しなければ空文字です。
	GetStatus(ctx context.Context, key string) (domain.Status, error)
	// Delete はチェックポイントと結果行を破棄します。
	Delete(ctx context.Context, key string) error

	// SavePartialResult はセッションの「現在の結果」を上書き保存します。
	// 行は追記ではなく常に1つで、生成途中でも読み出せます。
	SavePartialResult(ctx context.Context, key string, result *domain.MangaResult) error
	// SaveFinalResult は完了済みの最終結果として保存します。
	SaveFinalResult(ctx context.Context, key string, result *domain.MangaResult) error
	// GetResult は現在の結果行を返します。存在しなければ (nil, nil) です。
	GetResult(ctx context.Context, key string) (*domain.MangaResult, error)
}
