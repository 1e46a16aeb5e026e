package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shouni/go-manga-flow/pkg/checkpoint"
	"github.com/shouni/go-manga-flow/pkg/domain"
	"github.com/shouni/go-manga-flow/pkg/results"
)

// --- テスト用のフェイク生成ステップ ---

type fakeExtractor struct {
	entityCalls   atomic.Int32
	dialogueCalls atomic.Int32
	sceneCalls    atomic.Int32
	itemCalls     atomic.Int32
	events        int
	failDialogue  bool
}

func (f *fakeExtractor) ExtractEntities(_ context.Context, _ string) (*domain.EntityEventInfo, error) {
	f.entityCalls.Add(1)
	info := &domain.EntityEventInfo{
		Characters: []domain.ChapterCharacter{{Name: "アリス"}, {Name: "ボブ"}},
	}
	for i := 0; i < f.events; i++ {
		info.Events = append(info.Events, domain.ChapterEvent{
			Index:       i,
			Description: fmt.Sprintf("出来事%d", i),
		})
	}
	return info, nil
}

func (f *fakeExtractor) ExtractDialogues(_ context.Context, _ string, _ []domain.ChapterCharacter) (*domain.DialogueInfo, error) {
	f.dialogueCalls.Add(1)
	if f.failDialogue {
		return nil, &domain.GenerationError{Stage: domain.StageExtraction, Err: errors.New("provider error")}
	}
	return &domain.DialogueInfo{Lines: []domain.DialogueLine{{Speaker: "アリス", Text: "こんにちは", EventIndex: 0}}}, nil
}

func (f *fakeExtractor) ExtractScenes(_ context.Context, _ string) (*domain.SceneList, error) {
	f.sceneCalls.Add(1)
	return &domain.SceneList{Scenes: []domain.ChapterScene{{Name: "教室"}}}, nil
}

func (f *fakeExtractor) ExtractItems(_ context.Context, _ string) (*domain.ItemSummaryInfo, error) {
	f.itemCalls.Add(1)
	return &domain.ItemSummaryInfo{Summary: "要約"}, nil
}

type fakePlanner struct {
	calls atomic.Int32
	pages int
}

func (f *fakePlanner) PlanPages(_ context.Context, info *domain.ChapterInfo) (*domain.PagePlan, error) {
	f.calls.Add(1)
	plan := &domain.PagePlan{}
	perPage := (len(info.Events) + f.pages - 1) / f.pages
	for p := 0; p < f.pages; p++ {
		item := domain.PagePlanItem{PageNumber: p + 1, SuggestedPanelCount: 4}
		for i := p * perPage; i < (p+1)*perPage && i < len(info.Events); i++ {
			item.EventIndices = append(item.EventIndices, i)
		}
		plan.Pages = append(plan.Pages, item)
	}
	return plan, nil
}

type fakeDesigner struct {
	calls atomic.Int32
}

func (f *fakeDesigner) DesignPage(_ context.Context, _ *domain.ChapterInfo, item domain.PagePlanItem) (*domain.StoryboardPage, error) {
	f.calls.Add(1)
	return &domain.StoryboardPage{
		PageNumber:   item.PageNumber,
		EventIndices: item.EventIndices,
		Panels: []domain.Panel{
			{Index: 1, VisualAnchor: "anchor", SpeakerID: "alice"},
			{Index: 2, VisualAnchor: "anchor", SpeakerID: "bob"},
		},
	}, nil
}

type fakePrompter struct{}

func (fakePrompter) BuildPanelPrompts(page *domain.StoryboardPage) []domain.PanelPrompt {
	prompts := make([]domain.PanelPrompt, 0, len(page.Panels))
	for _, panel := range page.Panels {
		prompts = append(prompts, domain.PanelPrompt{
			PageNumber: page.PageNumber,
			PanelIndex: panel.Index,
			UserPrompt: fmt.Sprintf("panel %d-%d", page.PageNumber, panel.Index),
		})
	}
	return prompts
}

func (fakePrompter) BuildPagePrompt(title string, page *domain.StoryboardPage) *domain.PagePrompt {
	return &domain.PagePrompt{
		PageNumber: page.PageNumber,
		UserPrompt: fmt.Sprintf("%s page %d", title, page.PageNumber),
	}
}

type fakeRenderer struct {
	calls     atomic.Int32
	failPages map[int]bool

	// rendezvous を設定すると、全ページが同時に飛行中になるまで各呼び出しが
	// 待ち合わせる。逐次実行ではカウントが揃わず永遠に解けない。
	rendezvous *sync.WaitGroup
}

func (f *fakeRenderer) RenderPage(_ context.Context, _ string, page domain.PageResult) (domain.PageResult, error) {
	f.calls.Add(1)
	if f.rendezvous != nil {
		f.rendezvous.Done()
		f.rendezvous.Wait()
	}
	if f.failPages[page.PageNumber] {
		return page, errors.New("render failed")
	}
	page.PageImagePath = fmt.Sprintf("images/manga_page_%d.png", page.PageNumber)
	return page, nil
}

// --- ハーネス ---

type harness struct {
	store     *checkpoint.FileStore
	orch      *Orchestrator
	extractor *fakeExtractor
	planner   *fakePlanner
	designer  *fakeDesigner
	renderer  *fakeRenderer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:     store,
		extractor: &fakeExtractor{events: 6},
		planner:   &fakePlanner{pages: 3},
		designer:  &fakeDesigner{},
		renderer:  &fakeRenderer{},
	}
	// TTL をほぼゼロにして、キャンセルが次の保存境界で必ず観測されるようにする
	h.orch = NewOrchestrator(
		store,
		checkpoint.NewMonitor(store, time.Nanosecond),
		results.NewPersister(store),
		results.NewCleaner(t.TempDir()),
		h.extractor,
		h.planner,
		h.designer,
		fakePrompter{},
		h.renderer,
	)
	return h
}

func TestOrchestrator_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("全工程を完走して最終結果を保存するのだ", func(t *testing.T) {
		h := newHarness(t)
		sink := NewChannelSink(256)

		result, err := h.orch.Run(ctx, "ch-1", "章テキスト", RunOptions{Title: "第一章", Resume: true}, sink)
		if err != nil {
			t.Fatalf("完走するはずなのだ: %v", err)
		}
		if len(result.Pages) != 3 {
			t.Errorf("3ページできるはずなのだ: %d", len(result.Pages))
		}
		if !result.Complete {
			t.Error("最終結果は complete で保存されるべきなのだ")
		}
		for i, page := range result.Pages {
			if page.PageNumber != i+1 {
				t.Errorf("ページ番号が昇順でないのだ: 位置 %d に %d", i, page.PageNumber)
			}
			if len(page.PanelPrompts) != 2 || page.PagePrompt == nil {
				t.Errorf("ページ %d のプロンプトが欠けているのだ", page.PageNumber)
			}
		}

		session, err := h.orch.Status(ctx, "ch-1")
		if err != nil {
			t.Fatal(err)
		}
		if session.Stage != domain.StageCompleted || session.Status != domain.StatusCompleted {
			t.Errorf("セッションが完了状態でないのだ: stage=%s status=%s", session.Stage, session.Status)
		}

		// 途中キーは刈り取られているはず
		if session.Data.ExtractionStep1 != nil || session.Data.DesignedPages != nil {
			t.Error("工程完了後に途中キーが残っているのだ")
		}

		// 進捗イベントは工程順に単調で、巻き戻ってはいけない
		sink.Close()
		lastIndex := -1
		for ev := range sink.Events() {
			idx := ev.Stage.Index()
			if idx < lastIndex {
				t.Errorf("進捗が巻き戻ったのだ: 工程 %s (順位 %d → %d)", ev.Stage, lastIndex, idx)
			}
			lastIndex = idx
		}
	})

	t.Run("失敗後の再実行は完了済みステップを飛ばすのだ", func(t *testing.T) {
		h := newHarness(t)
		h.extractor.failDialogue = true

		_, err := h.orch.Run(ctx, "ch-2", "章テキスト", RunOptions{Title: "第二章", Resume: true}, nil)
		var genErr *domain.GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("GenerationError が返るはずなのだ: %v", err)
		}

		// ステップ1のチェックポイントは残っている
		session, _ := h.orch.Status(ctx, "ch-2")
		if session.Data.ExtractionStep1 == nil {
			t.Fatal("ステップ1の途中保存が失われたのだ")
		}
		if session.Status != domain.StatusFailed {
			t.Errorf("失敗状態になるはずなのだ: %s", session.Status)
		}

		// 復旧して再実行。ステップ1は再実行されない
		h.extractor.failDialogue = false
		if _, err := h.orch.Run(ctx, "ch-2", "章テキスト", RunOptions{Title: "第二章", Resume: true}, nil); err != nil {
			t.Fatalf("再実行は完走するはずなのだ: %v", err)
		}
		if got := h.extractor.entityCalls.Load(); got != 1 {
			t.Errorf("ステップ1は1回だけ実行されるはずなのだ: %d", got)
		}
		if got := h.extractor.dialogueCalls.Load(); got != 2 {
			t.Errorf("ステップ2は失敗と成功で2回のはずなのだ: %d", got)
		}
	})

	t.Run("出来事が2つなら簡易計画で1出来事1ページなのだ", func(t *testing.T) {
		h := newHarness(t)
		h.extractor.events = 2

		result, err := h.orch.Run(ctx, "ch-3", "章テキスト", RunOptions{Title: "短章", Resume: true}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if h.planner.calls.Load() != 0 {
			t.Error("簡易計画経路ではプランナーを呼ばないはずなのだ")
		}
		if len(result.Pages) != 2 {
			t.Fatalf("2ページになるはずなのだ: %d", len(result.Pages))
		}

		session, _ := h.orch.Status(ctx, "ch-3")
		for _, item := range session.Data.PagePlan.Pages {
			if len(item.EventIndices) != 1 {
				t.Errorf("ページ %d は出来事1つのはずなのだ: %v", item.PageNumber, item.EventIndices)
			}
			if item.SuggestedPanelCount != domain.FallbackPanelCount {
				t.Errorf("推奨パネル数が既定値でないのだ: %d", item.SuggestedPanelCount)
			}
		}
	})

	t.Run("ネームからのやり直しは上流を保ち下流を消すのだ", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.orch.Run(ctx, "ch-4", "章テキスト", RunOptions{Title: "第四章", Resume: true}, nil); err != nil {
			t.Fatal(err)
		}

		before, _ := h.orch.Status(ctx, "ch-4")
		wantInfo := before.Data.ChapterInfo
		wantPlan := before.Data.PagePlan

		if _, err := h.orch.Restart(ctx, "ch-4", "章テキスト", domain.StageStoryboard, RunOptions{Title: "第四章"}, nil); err != nil {
			t.Fatalf("やり直しは完走するはずなのだ: %v", err)
		}

		after, _ := h.orch.Status(ctx, "ch-4")
		if !reflect.DeepEqual(after.Data.ChapterInfo, wantInfo) {
			t.Error("抽出出力がやり直しで変わってしまったのだ")
		}
		if !reflect.DeepEqual(after.Data.PagePlan, wantPlan) {
			t.Error("ページ計画がやり直しで変わってしまったのだ")
		}
		if h.extractor.entityCalls.Load() != 1 || h.planner.calls.Load() != 1 {
			t.Error("上流工程が再実行されてしまったのだ")
		}
		if h.designer.calls.Load() != 6 {
			t.Errorf("ネームは3ページ×2回で6回のはずなのだ: %d", h.designer.calls.Load())
		}
	})

	t.Run("上流データなしのやり直しは状態を変えずに拒否されるのだ", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.orch.Restart(ctx, "ch-5", "章テキスト", domain.StagePromptBuilding, RunOptions{Title: "第五章"}, nil)
		var preErr *domain.PreconditionError
		if !errors.As(err, &preErr) {
			t.Fatalf("PreconditionError が返るはずなのだ: %v", err)
		}

		session, _ := h.orch.Status(ctx, "ch-5")
		if session != nil {
			t.Error("状態が作られてしまったのだ")
		}
	})

	t.Run("キャンセルは次の保存境界で観測されるのだ", func(t *testing.T) {
		h := newHarness(t)

		// 抽出ステップ2の完了イベントを合図に、実行中のセッションへ
		// 耐久的なキャンセルフラグを立てる
		sink := SinkFunc(func(ev ProgressEvent) {
			if ev.Stage == domain.StageExtraction && ev.Current == 2 {
				if err := h.orch.Cancel(ctx, "ch-7"); err != nil {
					t.Error(err)
				}
			}
		})

		_, err := h.orch.Run(ctx, "ch-7", "章テキスト", RunOptions{Title: "第七章", Resume: true}, sink)
		if !errors.Is(err, domain.ErrCancelled) {
			t.Fatalf("ErrCancelled が返るはずなのだ: %v", err)
		}

		// チェックポイントは最後に完了した単位と一致し、半端な書き込みはない
		after, _ := h.orch.Status(ctx, "ch-7")
		if after.Status != domain.StatusCancelled {
			t.Errorf("cancelled 状態のはずなのだ: %s", after.Status)
		}
		if after.Data.ExtractionStep1 == nil || after.Data.ExtractionStep2 == nil {
			t.Error("完了済みステップの保存が失われたのだ")
		}
		if after.Data.ChapterInfo != nil {
			t.Error("キャンセル後に先の工程が書かれてしまったのだ")
		}
	})

	t.Run("画像工程のページ失敗は数えるだけで続行するのだ", func(t *testing.T) {
		h := newHarness(t)
		h.renderer.failPages = map[int]bool{2: true}
		sink := NewChannelSink(256)

		result, err := h.orch.Run(ctx, "ch-8", "章テキスト", RunOptions{Title: "第八章", Resume: true, WithImages: true}, sink)
		if err != nil {
			t.Fatalf("ページ失敗は致命傷ではないはずなのだ: %v", err)
		}
		if h.renderer.calls.Load() != 3 {
			t.Errorf("3ページ全部試行されるはずなのだ: %d", h.renderer.calls.Load())
		}
		if result.Pages[0].PageImagePath == "" || result.Pages[2].PageImagePath == "" {
			t.Error("成功したページの画像パスが反映されていないのだ")
		}
		if result.Pages[1].PageImagePath != "" {
			t.Error("失敗したページに画像パスが入っているのだ")
		}

		session, _ := h.orch.Status(ctx, "ch-8")
		if session.Status != domain.StatusCompleted {
			t.Errorf("画像の部分失敗でも completed のままのはずなのだ: %s", session.Status)
		}

		// 成功・失敗の件数は結果行に構造化されて残り、後からでも読める
		stored, err := h.orch.Result(ctx, "ch-8")
		if err != nil {
			t.Fatal(err)
		}
		if stored.RenderStats == nil {
			t.Fatal("レンダリング件数が結果行に保存されていないのだ")
		}
		if stored.RenderStats.Succeeded != 2 || stored.RenderStats.Failed != 1 {
			t.Errorf("件数が合わないのだ: 成功 %d / 失敗 %d", stored.RenderStats.Succeeded, stored.RenderStats.Failed)
		}

		// 失敗したページも「試行済み」として進捗カウンターを進める
		sink.Close()
		pageEvents, maxCurrent := 0, 0
		for ev := range sink.Events() {
			if ev.Stage != domain.StageImageGeneration || ev.Page == 0 {
				continue
			}
			pageEvents++
			if ev.Current > maxCurrent {
				maxCurrent = ev.Current
			}
		}
		if pageEvents != 3 || maxCurrent != 3 {
			t.Errorf("失敗ページ込みで3件の進捗が出るはずなのだ: events=%d max=%d", pageEvents, maxCurrent)
		}
	})

	t.Run("画像工程はページを上限付き並列でレンダリングするのだ", func(t *testing.T) {
		h := newHarness(t)

		// 3ページが同時に飛行中になるまで各レンダリングを待ち合わせる。
		// 逐次実行だと1件目の待ちが解けず、ここを通過できない。
		var rendezvous sync.WaitGroup
		rendezvous.Add(3)
		h.renderer.rendezvous = &rendezvous

		result, err := h.orch.Run(ctx, "ch-10", "章テキスト",
			RunOptions{Title: "第十章", Resume: true, WithImages: true, MaxConcurrency: 3}, nil)
		if err != nil {
			t.Fatalf("並列レンダリングは完走するはずなのだ: %v", err)
		}
		for _, page := range result.Pages {
			if page.PageImagePath == "" {
				t.Errorf("ページ %d の画像パスが反映されていないのだ", page.PageNumber)
			}
		}
	})

	t.Run("途中結果はページ完了のたびに上書きされるのだ", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.orch.Run(ctx, "ch-9", "章テキスト", RunOptions{Title: "第九章", Resume: true}, nil); err != nil {
			t.Fatal(err)
		}

		result, err := h.orch.Result(ctx, "ch-9")
		if err != nil {
			t.Fatal(err)
		}
		if result == nil || !result.Complete {
			t.Error("最終結果は complete=true で読めるはずなのだ")
		}
	})
}
