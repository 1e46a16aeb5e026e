package checkpoint

import (
	"context"
	"reflect"
	"testing"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("FileStore の初期化に失敗したのだ: %v", err)
	}
	return fs
}

func TestFileStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	t.Run("未保存のセッションは nil が返るのだ", func(t *testing.T) {
		got, err := fs.Get(ctx, "unknown")
		if err != nil {
			t.Fatalf("取得に失敗したのだ: %v", err)
		}
		if got != nil {
			t.Errorf("nil であるべきなのだ: %+v", got)
		}
	})

	t.Run("保存と読み出しで内容が一致するのだ", func(t *testing.T) {
		session := domain.NewSession("chapter-42", "v7")
		session.Stage = domain.StagePlanning
		session.Progress = domain.Progress{Current: 4, Total: 4}
		session.Data.ChapterInfo = &domain.ChapterInfo{Title: "逆襲の章"}

		if err := fs.Save(ctx, session); err != nil {
			t.Fatalf("保存に失敗したのだ: %v", err)
		}

		got, err := fs.Get(ctx, "chapter-42")
		if err != nil {
			t.Fatalf("取得に失敗したのだ: %v", err)
		}
		if got.Stage != domain.StagePlanning || got.SourceVersionID != "v7" {
			t.Errorf("工程または版IDが一致しないのだ: %+v", got)
		}
		if got.Data.ChapterInfo.Title != "逆襲の章" {
			t.Errorf("チェックポイントデータが一致しないのだ: %+v", got.Data)
		}
		if !reflect.DeepEqual(got.Progress, session.Progress) {
			t.Errorf("進捗が一致しないのだ: %+v", got.Progress)
		}
	})

	t.Run("上書き保存は最後の内容だけが残るのだ", func(t *testing.T) {
		session := domain.NewSession("chapter-43", "")
		if err := fs.Save(ctx, session); err != nil {
			t.Fatal(err)
		}
		session.Stage = domain.StageStoryboard
		if err := fs.Save(ctx, session); err != nil {
			t.Fatal(err)
		}

		got, _ := fs.Get(ctx, "chapter-43")
		if got.Stage != domain.StageStoryboard {
			t.Errorf("上書きされていないのだ: %s", got.Stage)
		}
	})
}

func TestFileStore_Status(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	session := domain.NewSession("chapter-1", "")
	if err := fs.Save(ctx, session); err != nil {
		t.Fatal(err)
	}

	if err := fs.SetStatus(ctx, "chapter-1", domain.StatusCancelled); err != nil {
		t.Fatalf("状態の更新に失敗したのだ: %v", err)
	}
	status, err := fs.GetStatus(ctx, "chapter-1")
	if err != nil {
		t.Fatal(err)
	}
	if status != domain.StatusCancelled {
		t.Errorf("cancelled になっていないのだ: %s", status)
	}

	if err := fs.SetStatus(ctx, "no-such-session", domain.StatusFailed); err == nil {
		t.Error("存在しないセッションでエラーが返らないのだ")
	}
}

func TestFileStore_Result(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	result := &domain.MangaResult{
		Title:      "試作結果",
		Pages:      []domain.PageResult{{PageNumber: 1}},
		TotalPages: 3,
	}
	if err := fs.SavePartialResult(ctx, "chapter-9", result); err != nil {
		t.Fatalf("途中結果の保存に失敗したのだ: %v", err)
	}

	got, err := fs.GetResult(ctx, "chapter-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Complete {
		t.Error("途中結果なのに complete になっているのだ")
	}

	if err := fs.SaveFinalResult(ctx, "chapter-9", result); err != nil {
		t.Fatal(err)
	}
	got, _ = fs.GetResult(ctx, "chapter-9")
	if !got.Complete {
		t.Error("最終結果なのに complete になっていないのだ")
	}
	if got.SessionKey != "chapter-9" {
		t.Errorf("セッションキーが補完されていないのだ: %s", got.SessionKey)
	}
}

func TestFileStore_SanitizedKey(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	// パス区切りを含むキーでもディレクトリ階層が壊れないこと
	session := domain.NewSession("novel/1/chapter:2", "")
	if err := fs.Save(ctx, session); err != nil {
		t.Fatalf("保存に失敗したのだ: %v", err)
	}
	got, err := fs.Get(ctx, "novel/1/chapter:2")
	if err != nil || got == nil {
		t.Fatalf("サニタイズ後の読み出しに失敗したのだ: %v", err)
	}
}
