// Package parallel は、ページ単位の独立した生成タスクを上限付きの並列度で
// 実行するための汎用ランナーを提供します。完了順序に依存せず、結果は
// 最後のマージでページ番号昇順に整列されます。
package parallel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency は同時に実行するページタスク数の既定の上限です。
// 直列では遅すぎ、無制限ではプロバイダーのスロットリングを踏むため、
// この上限と1件ごとのチェックポイントの組で損失を最大でも上限ぶんに抑えます。
const DefaultMaxConcurrency = 5

// WorkFunc は1ページ分の生成処理です。
type WorkFunc[R any] func(ctx context.Context, page int) (R, error)

// CompleteFunc は1件完了するたびに直列化された区間の中で呼ばれます。
// 完了した結果のチェックポイント保存と進捗イベントの発行に使います。
// エラーを返すとバッチ全体が中断されます。
type CompleteFunc[R any] func(page int, result R, completed, total int) error

// Run は pages の各ページに対して work を最大 limit 並列で実行するのだ。
//
//   - already に載っているページは実行せず、結果をそのまま採用するのだ（再開経路）。
//   - 完了カウントの加算と onComplete の呼び出しは1つのミューテックスで
//     直列化されるのだ。永続化と進捗発行は並行完了に対して安全ではないからなのだ。
//   - 戻り値は already と新規分をマージしてページ番号昇順に並べたものなのだ。
//     順序はスケジューリングではなくマージの性質として保証されるのだ。
//   - 1件の失敗はバッチ全体のエラーとして伝播するが、それまでに onComplete を
//     通過した結果は呼び出し側で永続化済みのまま残るのだ。
func Run[R any](
	ctx context.Context,
	limit int,
	pages []int,
	already map[int]R,
	work WorkFunc[R],
	onComplete CompleteFunc[R],
) ([]R, error) {
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}

	results := make(map[int]R, len(pages))
	total := len(pages)
	completed := 0

	var pending []int
	for _, page := range pages {
		if r, ok := already[page]; ok {
			results[page] = r
			completed++
			continue
		}
		pending = append(pending, page)
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for _, page := range pending {
		eg.Go(func() error {
			result, err := work(egCtx, page)
			if err != nil {
				return fmt.Errorf("ページ %d の処理に失敗しました: %w", page, err)
			}

			mu.Lock()
			defer mu.Unlock()
			results[page] = result
			completed++
			if onComplete != nil {
				if err := onComplete(page, result, completed, total); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(results))
	for page := range results {
		numbers = append(numbers, page)
	}
	sort.Ints(numbers)

	ordered := make([]R, 0, len(numbers))
	for _, page := range numbers {
		ordered = append(ordered, results[page])
	}
	return ordered, nil
}
