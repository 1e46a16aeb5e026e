// Package pipeline は、章テキストから漫画の生成プロンプト一式（と任意の
// レンダリング済み画像）を作る多段パイプラインのオーケストレーターです。
// 工程の進行、チェックポイントによる再開、協調的キャンセル、ページ単位の
// 上限付き並列実行をここで束ねます。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/go-manga-flow/pkg/checkpoint"
	"github.com/shouni/go-manga-flow/pkg/domain"
	"github.com/shouni/go-manga-flow/pkg/results"
)

// extractionStepCount は抽出工程の固定ステップ数です。
const extractionStepCount = 4

// fallbackEventThreshold はこの数未満の出来事しかない章に対して
// AIを呼ばない決定的な簡易計画を使う閾値です。
const fallbackEventThreshold = 3

// Extractor は章テキストから構造化情報を抽出する4つの固定ステップです。
type Extractor interface {
	ExtractEntities(ctx context.Context, content string) (*domain.EntityEventInfo, error)
	ExtractDialogues(ctx context.Context, content string, characters []domain.ChapterCharacter) (*domain.DialogueInfo, error)
	ExtractScenes(ctx context.Context, content string) (*domain.SceneList, error)
	ExtractItems(ctx context.Context, content string) (*domain.ItemSummaryInfo, error)
}

// Planner は章情報からページ構成計画を作ります。
type Planner interface {
	PlanPages(ctx context.Context, info *domain.ChapterInfo) (*domain.PagePlan, error)
}

// StoryboardDesigner は計画の1ページ分からネームを設計します。
type StoryboardDesigner interface {
	DesignPage(ctx context.Context, info *domain.ChapterInfo, item domain.PagePlanItem) (*domain.StoryboardPage, error)
}

// PromptBuilder はネームから画像生成プロンプトを組み立てる決定的な変換です。
type PromptBuilder interface {
	BuildPanelPrompts(page *domain.StoryboardPage) []domain.PanelPrompt
	BuildPagePrompt(title string, page *domain.StoryboardPage) *domain.PagePrompt
}

// PageRenderer は1ページ分の画像を生成して保存します。
type PageRenderer interface {
	RenderPage(ctx context.Context, sessionKey string, page domain.PageResult) (domain.PageResult, error)
}

// RunOptions は1回の実行に対する指定です。
type RunOptions struct {
	// Title は成果物に付ける章タイトルです。
	Title string
	// Resume が true なら既存のチェックポイントから再開します。
	Resume bool
	// StartFrom を指定すると、検証の上でその工程からやり直します。
	StartFrom domain.Stage
	// WithImages が true なら、プロンプト完成後に画像レンダリングまで行います。
	WithImages bool
	// SourceVersionID は入力コンテンツの版の識別子です（来歴の記録用）。
	SourceVersionID string
	// MaxConcurrency はページ単位の並列実行の上限です。0以下なら既定値です。
	MaxConcurrency int
}

// Orchestrator はパイプライン全体を駆動します。
// メモリ上のセッションはオーケストレーターが専有し、永続化はすべて
// saveCheckpoint を通ります（保存の直前に必ずキャンセルを確認します）。
type Orchestrator struct {
	store     checkpoint.Store
	monitor   *checkpoint.Monitor
	persister *results.Persister
	cleaner   *results.Cleaner

	extractor Extractor
	planner   Planner
	designer  StoryboardDesigner
	prompter  PromptBuilder
	renderer  PageRenderer // nil の場合は画像工程をスキップ
}

// NewOrchestrator は Orchestrator を初期化します。renderer は nil でも構いません。
func NewOrchestrator(
	store checkpoint.Store,
	monitor *checkpoint.Monitor,
	persister *results.Persister,
	cleaner *results.Cleaner,
	extractor Extractor,
	planner Planner,
	designer StoryboardDesigner,
	prompter PromptBuilder,
	renderer PageRenderer,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		monitor:   monitor,
		persister: persister,
		cleaner:   cleaner,
		extractor: extractor,
		planner:   planner,
		designer:  designer,
		prompter:  prompter,
		renderer:  renderer,
	}
}

// Run はセッションを全工程の完了まで駆動するのだ。
//
// チェックポイント済みの工程はスキップされ、途中保存のある工程は
// 未完了の単位からだけ再開されるのだ。キャンセルが観測されたら
// domain.ErrCancelled を返し、チェックポイント済みの進捗はそのまま残るのだ。
func (o *Orchestrator) Run(ctx context.Context, sessionKey, content string, opts RunOptions, sink ProgressSink) (*domain.MangaResult, error) {
	if sink == nil {
		sink = NopSink
	}

	// 前回の実行の古いキャッシュが、外部からリセットされた
	// cancelled フラグを隠すのを防ぐ
	o.monitor.Reset(sessionKey)

	session, err := o.prepareSession(ctx, sessionKey, opts)
	if err != nil {
		return nil, err
	}

	run := &runContext{
		orchestrator: o,
		session:      session,
		content:      content,
		opts:         opts,
		sink:         sink,
		runID:        newRunID(),
	}

	result, err := run.execute(ctx)
	if err != nil {
		o.recordFailure(ctx, sessionKey, err)
		return nil, err
	}
	return result, nil
}

// Status はセッションの現在の状態を副作用なしで返します。
// セッションが存在しない場合は (nil, nil) です。
func (o *Orchestrator) Status(ctx context.Context, sessionKey string) (*domain.GenerationSession, error) {
	return o.store.Get(ctx, sessionKey)
}

// Result はセッションの「現在の結果」を返します。生成途中でも読み出せます。
func (o *Orchestrator) Result(ctx context.Context, sessionKey string) (*domain.MangaResult, error) {
	return o.store.GetResult(ctx, sessionKey)
}

// Cancel は耐久的なキャンセルフラグを立てるのだ。
// 実行中の処理を同期的には止めず、次のキャンセル確認（TTLの窓の範囲内）で
// 観測されて停止するのだ。
func (o *Orchestrator) Cancel(ctx context.Context, sessionKey string) error {
	if err := o.store.SetStatus(ctx, sessionKey, domain.StatusCancelled); err != nil {
		return fmt.Errorf("キャンセルフラグの設定に失敗しました: %w", err)
	}
	slog.InfoContext(ctx, "セッションのキャンセルを要求しました", "session", sessionKey)
	return nil
}

// Restart は指定された工程からのやり直しを検証し、実行します。
// 上流データが欠けている場合は状態を一切変更せずに PreconditionError を返します。
func (o *Orchestrator) Restart(ctx context.Context, sessionKey, content string, fromStage domain.Stage, opts RunOptions, sink ProgressSink) (*domain.MangaResult, error) {
	opts.Resume = true
	opts.StartFrom = fromStage
	return o.Run(ctx, sessionKey, content, opts, sink)
}

// prepareSession はチェックポイントの復元・やり直し検証・成果物削除を行い、
// 実行可能な状態のセッションを返します。
func (o *Orchestrator) prepareSession(ctx context.Context, sessionKey string, opts RunOptions) (*domain.GenerationSession, error) {
	var session *domain.GenerationSession
	if opts.Resume {
		existing, err := o.store.Get(ctx, sessionKey)
		if err != nil {
			return nil, fmt.Errorf("チェックポイントの読み込みに失敗しました: %w", err)
		}
		session = existing
	}
	if session == nil {
		session = domain.NewSession(sessionKey, opts.SourceVersionID)
	}
	if session.Data == nil {
		session.Data = &domain.CheckpointData{}
	}
	if opts.SourceVersionID != "" {
		session.SourceVersionID = opts.SourceVersionID
	}

	if opts.StartFrom == "" {
		// 復元したセッションの工程表示を、チェックポイントの中身から導出し直す。
		// 実際の飛ばし判定は工程ごとの最終出力キーで行われる。
		session.Stage = domain.DetermineStartStage(session.Data, "")
	} else {
		if err := domain.ValidateStartStage(opts.StartFrom, session.Data); err != nil {
			return nil, err
		}
		session.Data.ClearFrom(opts.StartFrom)
		session.Stage = opts.StartFrom

		// 成果物（画像）が論理データより長生きしないように、
		// チェックポイントの破棄と同じ境界で削除する
		if err := o.cleaner.Clean(ctx, sessionKey, opts.StartFrom); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "工程をやり直します",
			"session", sessionKey,
			"from_stage", string(opts.StartFrom),
		)
	}

	session.Status = domain.StatusRunning
	if err := o.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("セッションの初期保存に失敗しました: %w", err)
	}
	return session, nil
}

// recordFailure は実行の失敗をセッション状態へ反映します。
// キャンセルは失敗として扱いません。保存自体の失敗はログに留めます。
func (o *Orchestrator) recordFailure(ctx context.Context, sessionKey string, runErr error) {
	status := domain.StatusFailed
	if errors.Is(runErr, domain.ErrCancelled) {
		status = domain.StatusCancelled
	}
	if err := o.store.SetStatus(ctx, sessionKey, status); err != nil {
		slog.WarnContext(ctx, "失敗状態の記録に失敗しました",
			"session", sessionKey,
			"status", string(status),
			"error", err,
		)
	}
}

// runContext は1回の Run 実行に閉じた可変状態です。
type runContext struct {
	orchestrator *Orchestrator
	session      *domain.GenerationSession
	content      string
	opts         RunOptions
	sink         ProgressSink
	runID        string
}

// saveCheckpoint は進捗1単位の耐久化なのだ。
// 保存の直前に必ずキャンセルを確認し、キャンセル済みなら新たな部分出力を
// 書かずに ErrCancelled を返すのだ。これが全工程共通の回復境界なのだ。
func (r *runContext) saveCheckpoint(ctx context.Context, stage domain.Stage, current, total int) error {
	cancelled, err := r.orchestrator.monitor.Check(ctx, r.session.SessionKey)
	if err != nil {
		return fmt.Errorf("キャンセル状態の確認に失敗しました: %w", err)
	}
	if cancelled {
		return domain.ErrCancelled
	}

	r.session.Stage = stage
	r.session.Progress = domain.Progress{Current: current, Total: total}
	if err := r.orchestrator.store.Save(ctx, r.session); err != nil {
		return fmt.Errorf("チェックポイントの保存に失敗しました: %w", err)
	}
	return nil
}

// emit は進捗イベントを発行します。
func (r *runContext) emit(stage domain.Stage, current, total, page int, message string) {
	r.sink.Emit(ProgressEvent{
		RunID:      r.runID,
		SessionKey: r.session.SessionKey,
		Stage:      stage,
		Current:    current,
		Total:      total,
		Page:       page,
		Message:    message,
		At:         time.Now(),
	})
}

// execute は工程を固定順で進めるのだ。各工程は最終出力が既に
// チェックポイントにあれば丸ごとスキップされるのだ。
func (r *runContext) execute(ctx context.Context) (*domain.MangaResult, error) {
	data := r.session.Data

	if data.ChapterInfo == nil {
		if err := r.runExtraction(ctx); err != nil {
			return nil, err
		}
	}
	if data.PagePlan == nil {
		if err := r.runPlanning(ctx); err != nil {
			return nil, err
		}
	}
	if data.Storyboard == nil {
		if err := r.runStoryboard(ctx); err != nil {
			return nil, err
		}
	}
	if data.PanelPrompts == nil {
		if err := r.runPromptBuilding(ctx); err != nil {
			return nil, err
		}
	}
	if data.PagePrompts == nil {
		if err := r.runPagePromptBuilding(ctx); err != nil {
			return nil, err
		}
	}

	result, err := r.finalize(ctx)
	if err != nil {
		return nil, err
	}

	if r.opts.WithImages && r.orchestrator.renderer != nil {
		result, err = r.runImageGeneration(ctx, result)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// finalize は全プロンプトの統合結果を完了済みとして保存し、
// その後ではじめてセッションを Completed へ遷移させるのだ。
func (r *runContext) finalize(ctx context.Context) (*domain.MangaResult, error) {
	data := r.session.Data
	pages := domain.MergePromptPages(data.PanelPrompts, data.PagePrompts)

	result, err := r.orchestrator.persister.SaveFinal(ctx, r.session.SessionKey, r.opts.Title, pages)
	if err != nil {
		return nil, err
	}

	r.session.Status = domain.StatusCompleted
	if err := r.saveCheckpoint(ctx, domain.StageCompleted, len(pages), len(pages)); err != nil {
		return nil, err
	}
	r.emit(domain.StageCompleted, len(pages), len(pages), 0, "全工程が完了しました")

	slog.InfoContext(ctx, "パイプラインが完了しました",
		"session", r.session.SessionKey,
		"pages", len(pages),
	)
	return result, nil
}
