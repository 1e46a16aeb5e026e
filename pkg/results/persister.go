// Package results は、生成途中の成果物の逐次保存と、工程やり直し時の
// 成果物（画像）の後始末を担当します。
package results

import (
	"context"
	"fmt"

	"github.com/shouni/go-manga-flow/pkg/checkpoint"
	"github.com/shouni/go-manga-flow/pkg/domain"
)

// Persister はページ完了のたびにセッションの「現在の結果」を上書き保存します。
// 最終結果の保存とは区別され、途中結果は常に complete=false で書かれます。
// 呼び出し側（UIなど）はこの行を読めば生成中でもライブの進捗を表示できます。
type Persister struct {
	store checkpoint.Store
}

// NewPersister は Persister を初期化します。
func NewPersister(store checkpoint.Store) *Persister {
	return &Persister{store: store}
}

// SavePartial はこれまでに完成したページ群を途中結果として上書き保存します。
func (p *Persister) SavePartial(ctx context.Context, key, title string, pages []domain.PageResult, totalPages int) error {
	result := &domain.MangaResult{
		Title:      title,
		Pages:      pages,
		TotalPages: totalPages,
	}
	if err := p.store.SavePartialResult(ctx, key, result); err != nil {
		return fmt.Errorf("途中結果の保存に失敗しました: %w", err)
	}
	return nil
}

// SaveFinal は全ページ揃った結果を完了済みとして保存するのだ。
// セッションが Completed へ遷移できるのはこの保存が成功した後だけなのだ。
func (p *Persister) SaveFinal(ctx context.Context, key, title string, pages []domain.PageResult) (*domain.MangaResult, error) {
	result := &domain.MangaResult{
		Title:      title,
		Pages:      pages,
		TotalPages: len(pages),
	}
	if err := p.store.SaveFinalResult(ctx, key, result); err != nil {
		return nil, fmt.Errorf("最終結果の保存に失敗しました: %w", err)
	}
	return result, nil
}

// SaveRendered は画像パスを反映した最終結果を、レンダリングの成功・失敗件数
// 付きで上書き保存します。status コマンドは結果行のこの件数を表示に使えます。
func (p *Persister) SaveRendered(ctx context.Context, key, title string, pages []domain.PageResult, stats domain.RenderStats) (*domain.MangaResult, error) {
	result := &domain.MangaResult{
		Title:       title,
		Pages:       pages,
		TotalPages:  len(pages),
		RenderStats: &stats,
	}
	if err := p.store.SaveFinalResult(ctx, key, result); err != nil {
		return nil, fmt.Errorf("レンダリング結果の保存に失敗しました: %w", err)
	}
	return result, nil
}
