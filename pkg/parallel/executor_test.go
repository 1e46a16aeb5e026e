package parallel

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_Ordering(t *testing.T) {
	t.Run("完了順がばらばらでも結果はページ番号昇順なのだ", func(t *testing.T) {
		pages := []int{5, 1, 4, 2, 3, 7, 6}

		results, err := Run(context.Background(), 4, pages, nil,
			func(_ context.Context, page int) (int, error) {
				// 完了タイミングを意図的にシャッフルする
				time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
				return page * 10, nil
			}, nil)
		if err != nil {
			t.Fatalf("実行に失敗したのだ: %v", err)
		}

		want := []int{10, 20, 30, 40, 50, 60, 70}
		for i, r := range results {
			if r != want[i] {
				t.Fatalf("順序が崩れているのだ: %v", results)
			}
		}
	})
}

func TestRun_ResumeSkipsCompleted(t *testing.T) {
	t.Run("already にあるページは再実行されないのだ", func(t *testing.T) {
		pages := []int{1, 2, 3, 4, 5}
		already := map[int]string{1: "済1", 3: "済3"}

		var calls int32
		var mu sync.Mutex
		executedPages := map[int]bool{}

		results, err := Run(context.Background(), 2, pages, already,
			func(_ context.Context, page int) (string, error) {
				atomic.AddInt32(&calls, 1)
				mu.Lock()
				executedPages[page] = true
				mu.Unlock()
				return "新", nil
			}, nil)
		if err != nil {
			t.Fatal(err)
		}

		if calls != 3 {
			t.Errorf("実行回数は3回であるべきなのだ: %d", calls)
		}
		if executedPages[1] || executedPages[3] {
			t.Error("完了済みページが再実行されたのだ")
		}
		if len(results) != 5 || results[0] != "済1" || results[2] != "済3" {
			t.Errorf("マージ結果が正しくないのだ: %v", results)
		}
	})
}

func TestRun_SerializedCallbacks(t *testing.T) {
	t.Run("onComplete は直列化され完了数は単調増加なのだ", func(t *testing.T) {
		pages := make([]int, 20)
		for i := range pages {
			pages[i] = i + 1
		}

		var inCallback int32
		lastCompleted := 0
		_, err := Run(context.Background(), 8, pages, nil,
			func(_ context.Context, page int) (int, error) {
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
				return page, nil
			},
			func(page, result, completed, total int) error {
				if atomic.AddInt32(&inCallback, 1) != 1 {
					t.Error("onComplete が同時に実行されているのだ")
				}
				defer atomic.AddInt32(&inCallback, -1)

				if completed != lastCompleted+1 {
					t.Errorf("完了数が飛んだのだ: %d -> %d", lastCompleted, completed)
				}
				lastCompleted = completed
				if total != 20 {
					t.Errorf("total が違うのだ: %d", total)
				}
				return nil
			})
		if err != nil {
			t.Fatal(err)
		}
		if lastCompleted != 20 {
			t.Errorf("最終完了数が違うのだ: %d", lastCompleted)
		}
	})
}

func TestRun_FailurePropagates(t *testing.T) {
	t.Run("1件の失敗はバッチ全体に伝播するが完了済みは通知済みなのだ", func(t *testing.T) {
		boom := errors.New("生成失敗")
		var notified []int
		var mu sync.Mutex

		_, err := Run(context.Background(), 1, []int{1, 2, 3}, nil,
			func(_ context.Context, page int) (int, error) {
				if page == 3 {
					return 0, boom
				}
				return page, nil
			},
			func(page, result, completed, total int) error {
				mu.Lock()
				notified = append(notified, page)
				mu.Unlock()
				return nil
			})
		if !errors.Is(err, boom) {
			t.Fatalf("元のエラーが包まれていないのだ: %v", err)
		}

		// 並列度1なのでページ1,2は失敗前に完了通知されている
		if len(notified) != 2 {
			t.Errorf("完了通知の数が違うのだ: %v", notified)
		}
	})
}

func TestRun_AlreadyCountsTowardProgress(t *testing.T) {
	t.Run("再開時の completed は既完了ぶんから始まるのだ", func(t *testing.T) {
		var first int
		var once sync.Once
		_, err := Run(context.Background(), 1, []int{1, 2, 3}, map[int]int{1: 10, 2: 20},
			func(_ context.Context, page int) (int, error) { return page, nil },
			func(page, result, completed, total int) error {
				once.Do(func() { first = completed })
				return nil
			})
		if err != nil {
			t.Fatal(err)
		}
		if first != 3 {
			t.Errorf("既完了2件+新規1件で3になるべきなのだ: %d", first)
		}
	})
}
