package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-manga-flow/pkg/domain"
	"github.com/shouni/go-manga-flow/pkg/parallel"
)

// runExtraction は抽出工程を4つの固定ステップで実行するのだ。
// ステップごとにチェックポイントを保存するので、途中でクラッシュしても
// 未完了のステップからだけ再開されるのだ。
func (r *runContext) runExtraction(ctx context.Context) error {
	data := r.session.Data
	ext := r.orchestrator.extractor

	type step struct {
		name string
		done func() bool
		run  func(ctx context.Context) error
	}

	steps := []step{
		{
			name: "登場人物と出来事の抽出",
			done: func() bool { return data.ExtractionStep1 != nil },
			run: func(ctx context.Context) error {
				info, err := ext.ExtractEntities(ctx, r.content)
				if err != nil {
					return err
				}
				data.ExtractionStep1 = info
				return nil
			},
		},
		{
			name: "セリフの抽出",
			done: func() bool { return data.ExtractionStep2 != nil },
			run: func(ctx context.Context) error {
				info, err := ext.ExtractDialogues(ctx, r.content, data.ExtractionStep1.Characters)
				if err != nil {
					return err
				}
				data.ExtractionStep2 = info
				return nil
			},
		},
		{
			name: "場面の抽出",
			done: func() bool { return data.ExtractionStep3 != nil },
			run: func(ctx context.Context) error {
				info, err := ext.ExtractScenes(ctx, r.content)
				if err != nil {
					return err
				}
				data.ExtractionStep3 = info
				return nil
			},
		},
		{
			name: "小道具と要約の抽出",
			done: func() bool { return data.ExtractionStep4 != nil },
			run: func(ctx context.Context) error {
				info, err := ext.ExtractItems(ctx, r.content)
				if err != nil {
					return err
				}
				data.ExtractionStep4 = info
				return nil
			},
		},
	}

	for i, s := range steps {
		if s.done() {
			continue
		}
		if err := s.run(ctx); err != nil {
			return err
		}
		if err := r.saveCheckpoint(ctx, domain.StageExtraction, i+1, extractionStepCount); err != nil {
			return err
		}
		r.emit(domain.StageExtraction, i+1, extractionStepCount, 0, s.name)
	}

	// 全ステップ完了。統合して途中キーを刈り取る
	data.ChapterInfo = domain.MergeChapterInfo(
		r.opts.Title,
		data.ExtractionStep1, data.ExtractionStep2, data.ExtractionStep3, data.ExtractionStep4,
	)
	data.ExtractionStep1 = nil
	data.ExtractionStep2 = nil
	data.ExtractionStep3 = nil
	data.ExtractionStep4 = nil

	if err := r.saveCheckpoint(ctx, domain.StagePlanning, 0, 0); err != nil {
		return err
	}
	r.emit(domain.StagePlanning, 0, 0, 0, "章情報の抽出が完了しました")

	slog.InfoContext(ctx, "抽出工程が完了しました",
		"session", r.session.SessionKey,
		"events", len(data.ChapterInfo.Events),
		"characters", len(data.ChapterInfo.Characters),
	)
	return nil
}

// runPlanning はページ構成計画を作るのだ。出来事が少なすぎる章には
// AIを呼ばず、1出来事 = 1ページの決定的な簡易計画を使うのだ。
func (r *runContext) runPlanning(ctx context.Context) error {
	data := r.session.Data
	info := data.ChapterInfo

	var plan *domain.PagePlan
	if len(info.Events) < fallbackEventThreshold {
		plan = domain.FallbackPlan(info)
		slog.InfoContext(ctx, "出来事が少ないため簡易計画を使います",
			"session", r.session.SessionKey,
			"events", len(info.Events),
		)
	} else {
		generated, err := r.orchestrator.planner.PlanPages(ctx, info)
		if err != nil {
			return err
		}
		orphans, err := generated.RepairCoverage(len(info.Events))
		if err != nil {
			return &domain.GenerationError{Stage: domain.StagePlanning, Err: err}
		}
		if len(orphans) > 0 {
			slog.WarnContext(ctx, "計画から漏れた出来事を最終ページへ追記しました",
				"session", r.session.SessionKey,
				"orphans", orphans,
			)
		}
		plan = generated
	}

	data.PagePlan = plan
	total := len(plan.Pages)
	if err := r.saveCheckpoint(ctx, domain.StageStoryboard, 0, total); err != nil {
		return err
	}
	r.emit(domain.StageStoryboard, 0, total, 0, fmt.Sprintf("全%dページの構成計画が確定しました", total))
	return nil
}

// runStoryboard はページ単位のネーム設計を上限付き並列で実行するのだ。
// 1ページ完了するごとにチェックポイントが保存されるので、クラッシュや
// キャンセルの後は未完了のページだけが再実行されるのだ。
func (r *runContext) runStoryboard(ctx context.Context) error {
	data := r.session.Data
	plan := data.PagePlan

	items := make(map[int]domain.PagePlanItem, len(plan.Pages))
	for _, item := range plan.Pages {
		items[item.PageNumber] = item
	}

	if data.DesignedPages == nil {
		data.DesignedPages = make(map[int]*domain.StoryboardPage)
	}

	designed, err := parallel.Run(
		ctx,
		r.opts.MaxConcurrency,
		plan.PageNumbers(),
		data.DesignedPages,
		func(ctx context.Context, page int) (*domain.StoryboardPage, error) {
			return r.orchestrator.designer.DesignPage(ctx, data.ChapterInfo, items[page])
		},
		func(page int, result *domain.StoryboardPage, completed, total int) error {
			data.DesignedPages[page] = result
			if err := r.saveCheckpoint(ctx, domain.StageStoryboard, completed, total); err != nil {
				return err
			}
			r.emit(domain.StageStoryboard, completed, total, page, "ネームを設計しました")
			return nil
		},
	)
	if err != nil {
		return err
	}

	storyboard := &domain.Storyboard{Pages: make([]domain.StoryboardPage, 0, len(designed))}
	for _, page := range designed {
		storyboard.Pages = append(storyboard.Pages, *page)
	}
	storyboard.SortPages()
	if err := storyboard.Validate(); err != nil {
		return &domain.GenerationError{Stage: domain.StageStoryboard, Err: err}
	}

	data.Storyboard = storyboard
	data.DesignedPages = nil

	total := len(storyboard.Pages)
	if err := r.saveCheckpoint(ctx, domain.StagePromptBuilding, 0, total); err != nil {
		return err
	}
	r.emit(domain.StagePromptBuilding, 0, total, 0, "ネーム工程が完了しました")
	return nil
}

// runPromptBuilding はパネルプロンプトをページ単位で構築するのだ。
func (r *runContext) runPromptBuilding(ctx context.Context) error {
	data := r.session.Data
	storyboard := data.Storyboard

	if data.CompletedPanelPages == nil {
		data.CompletedPanelPages = make(map[int][]domain.PanelPrompt)
	}

	pages := make([]int, 0, len(storyboard.Pages))
	for _, page := range storyboard.Pages {
		pages = append(pages, page.PageNumber)
	}

	_, err := parallel.Run(
		ctx,
		r.opts.MaxConcurrency,
		pages,
		data.CompletedPanelPages,
		func(_ context.Context, page int) ([]domain.PanelPrompt, error) {
			sp := storyboard.Page(page)
			if sp == nil {
				return nil, fmt.Errorf("ネームにページ %d が見つかりません", page)
			}
			return r.orchestrator.prompter.BuildPanelPrompts(sp), nil
		},
		func(page int, result []domain.PanelPrompt, completed, total int) error {
			data.CompletedPanelPages[page] = result
			if err := r.saveCheckpoint(ctx, domain.StagePromptBuilding, completed, total); err != nil {
				return err
			}
			r.emit(domain.StagePromptBuilding, completed, total, page, "パネルプロンプトを構築しました")
			return r.savePartialResult(ctx, total)
		},
	)
	if err != nil {
		return err
	}

	data.PanelPrompts = data.CompletedPanelPages
	data.CompletedPanelPages = nil

	total := len(pages)
	if err := r.saveCheckpoint(ctx, domain.StagePagePromptBuilding, 0, total); err != nil {
		return err
	}
	r.emit(domain.StagePagePromptBuilding, 0, total, 0, "パネルプロンプト工程が完了しました")
	return nil
}

// runPagePromptBuilding はページ統合プロンプトを構築するのだ。
// パネル側とは独立した進捗で完成し、合流はページ番号キーで行われるのだ。
func (r *runContext) runPagePromptBuilding(ctx context.Context) error {
	data := r.session.Data
	storyboard := data.Storyboard

	if data.CompletedPromptPages == nil {
		data.CompletedPromptPages = make(map[int]*domain.PagePrompt)
	}

	pages := make([]int, 0, len(storyboard.Pages))
	for _, page := range storyboard.Pages {
		pages = append(pages, page.PageNumber)
	}

	_, err := parallel.Run(
		ctx,
		r.opts.MaxConcurrency,
		pages,
		data.CompletedPromptPages,
		func(_ context.Context, page int) (*domain.PagePrompt, error) {
			sp := storyboard.Page(page)
			if sp == nil {
				return nil, fmt.Errorf("ネームにページ %d が見つかりません", page)
			}
			return r.orchestrator.prompter.BuildPagePrompt(r.opts.Title, sp), nil
		},
		func(page int, result *domain.PagePrompt, completed, total int) error {
			data.CompletedPromptPages[page] = result
			if err := r.saveCheckpoint(ctx, domain.StagePagePromptBuilding, completed, total); err != nil {
				return err
			}
			r.emit(domain.StagePagePromptBuilding, completed, total, page, "ページプロンプトを構築しました")
			return r.savePartialResult(ctx, total)
		},
	)
	if err != nil {
		return err
	}

	data.PagePrompts = data.CompletedPromptPages
	data.CompletedPromptPages = nil
	return nil
}

// savePartialResult はここまでに完成したページ群を「現在の結果」として
// 上書き保存します。呼び出し側は生成途中でもこの行を読んで進捗を表示できます。
func (r *runContext) savePartialResult(ctx context.Context, totalPages int) error {
	data := r.session.Data

	panels := data.PanelPrompts
	if panels == nil {
		panels = data.CompletedPanelPages
	}
	pagePrompts := data.PagePrompts
	if pagePrompts == nil {
		pagePrompts = data.CompletedPromptPages
	}

	pages := domain.MergePromptPages(panels, pagePrompts)
	return r.orchestrator.persister.SavePartial(ctx, r.session.SessionKey, r.opts.Title, pages, totalPages)
}

// renderOutcome は1ページ分のレンダリング結果なのだ。
// この工程だけはページの失敗でバッチを止めないので、エラーも値として運ぶのだ。
type renderOutcome struct {
	page domain.PageResult
	err  error
}

// runImageGeneration はページごとの画像レンダリングを上限付き並列で実行するのだ。
// この工程だけはページ単位の失敗を致命傷にせず、件数として数えて続行するのだ。
// 失敗があってもセッションは partial には戻らないのだ。
func (r *runContext) runImageGeneration(ctx context.Context, result *domain.MangaResult) (*domain.MangaResult, error) {
	total := len(result.Pages)

	if err := r.saveCheckpoint(ctx, domain.StageImageGeneration, 0, total); err != nil {
		return nil, err
	}
	r.emit(domain.StageImageGeneration, 0, total, 0, "画像レンダリングを開始します")

	byNumber := make(map[int]domain.PageResult, total)
	pages := make([]int, 0, total)
	for _, page := range result.Pages {
		byNumber[page.PageNumber] = page
		pages = append(pages, page.PageNumber)
	}

	var stats domain.RenderStats
	outcomes, err := parallel.Run(
		ctx,
		r.opts.MaxConcurrency,
		pages,
		nil,
		func(ctx context.Context, page int) (renderOutcome, error) {
			rendered, err := r.orchestrator.renderer.RenderPage(ctx, r.session.SessionKey, byNumber[page])
			if err != nil {
				// バッチを止めず、元のページを結果として残す
				return renderOutcome{page: byNumber[page], err: err}, nil
			}
			return renderOutcome{page: rendered}, nil
		},
		func(page int, outcome renderOutcome, completed, total int) error {
			if outcome.err != nil {
				stats.Failed++
				slog.WarnContext(ctx, "ページ画像の生成に失敗しました（続行します）",
					"session", r.session.SessionKey,
					"page", page,
					"error", outcome.err,
				)
			} else {
				stats.Succeeded++
			}
			// 失敗したページも「試行済み」として進捗カウンターを進める
			if err := r.saveCheckpoint(ctx, domain.StageImageGeneration, completed, total); err != nil {
				return err
			}
			if outcome.err != nil {
				r.emit(domain.StageImageGeneration, completed, total, page, "ページ画像の生成に失敗しました")
			} else {
				r.emit(domain.StageImageGeneration, completed, total, page, "ページ画像を生成しました")
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	rendered := make([]domain.PageResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		rendered = append(rendered, outcome.page)
	}

	// 画像パスと成功・失敗件数を反映した最終結果を上書きする
	final, err := r.orchestrator.persister.SaveRendered(ctx, r.session.SessionKey, r.opts.Title, rendered, stats)
	if err != nil {
		return nil, err
	}

	if err := r.saveCheckpoint(ctx, domain.StageCompleted, total, total); err != nil {
		return nil, err
	}
	r.emit(domain.StageCompleted, total, total, 0,
		fmt.Sprintf("画像レンダリングが完了しました（成功 %d / 失敗 %d）", stats.Succeeded, stats.Failed))

	slog.InfoContext(ctx, "画像レンダリングが完了しました",
		"session", r.session.SessionKey,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return final, nil
}
