// Package builder はアプリケーションの依存関係を構築する配線層です。
// ストアの選択（ファイル or PostgreSQL）、Geminiクライアント、生成ステップ、
// オーケストレーターの組み立てをここに集約します。
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	imagekit "github.com/shouni/gemini-image-kit/pkg/generator"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"google.golang.org/genai"

	"github.com/shouni/go-manga-flow/internal/config"
	"github.com/shouni/go-manga-flow/pkg/checkpoint"
	"github.com/shouni/go-manga-flow/pkg/domain"
	"github.com/shouni/go-manga-flow/pkg/generation"
	"github.com/shouni/go-manga-flow/pkg/pipeline"
	"github.com/shouni/go-manga-flow/pkg/results"
)

const (
	defaultGeminiTemperature = float32(0.2)
	defaultCacheExpiration   = 5 * time.Minute
	cacheCleanupInterval     = 15 * time.Minute
	defaultTTL               = 5 * time.Minute
)

// NewAppContext は設定からアプリケーション全体を組み立てるのだ。
// 使い終わったら Close を呼んでほしいのだ。
func NewAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	timeout := cfg.Options.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	httpClient := httpkit.New(timeout)

	aiClient, err := InitializeAIClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	gcsFactory, err := gcsfactory.NewGCSClientFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCSクライアントファクトリの初期化に失敗しました: %w", err)
	}
	reader, err := gcsFactory.NewInputReader()
	if err != nil {
		return nil, fmt.Errorf("InputReaderの初期化に失敗しました: %w", err)
	}
	writer, err := gcsFactory.NewOutputWriter()
	if err != nil {
		return nil, fmt.Errorf("OutputWriterの初期化に失敗しました: %w", err)
	}

	store, closeStore, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	orchestrator, err := buildOrchestrator(ctx, cfg, store, aiClient, httpClient, reader, writer)
	if err != nil {
		if closeStore != nil {
			closeStore()
		}
		return nil, err
	}

	return &AppContext{
		Config:       cfg,
		Options:      cfg.Options,
		Store:        store,
		Orchestrator: orchestrator,
		Reader:       reader,
		Writer:       writer,
		aiClient:     aiClient,
		httpClient:   httpClient,
		closeStore:   closeStore,
	}, nil
}

// InitializeAIClient は gemini クライアントを初期化します。
func InitializeAIClient(ctx context.Context, apiKey string) (gemini.GenerativeModel, error) {
	clientConfig := gemini.Config{
		APIKey:      apiKey,
		Temperature: genai.Ptr(defaultGeminiTemperature),
	}
	aiClient, err := gemini.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}
	return aiClient, nil
}

// InitializeStore はチェックポイントストアを選択して初期化するのだ。
// DATABASE_URL があれば PostgreSQL、なければローカルのファイルストアなのだ。
func InitializeStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := checkpoint.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		slog.InfoContext(ctx, "チェックポイントストアに PostgreSQL を使います")
		return pg, pg.Close, nil
	}

	fs, err := checkpoint.NewFileStore(cfg.CheckpointDir)
	if err != nil {
		return nil, nil, err
	}
	slog.InfoContext(ctx, "チェックポイントストアにローカルファイルを使います", "dir", cfg.CheckpointDir)
	return fs, nil, nil
}

// buildOrchestrator は生成ステップ群を組み立ててオーケストレーターを返します。
func buildOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	store checkpoint.Store,
	aiClient gemini.GenerativeModel,
	httpClient httpkit.ClientInterface,
	reader remoteio.InputReader,
	writer remoteio.OutputWriter,
) (*pipeline.Orchestrator, error) {
	extractor, err := generation.NewGeminiExtractor(aiClient, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("抽出ステップの初期化に失敗しました: %w", err)
	}
	planner, err := generation.NewGeminiPlanner(aiClient, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("計画ステップの初期化に失敗しました: %w", err)
	}
	designer, err := generation.NewGeminiStoryboardDesigner(aiClient, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("ネームステップの初期化に失敗しました: %w", err)
	}

	chars, err := loadCharacters(cfg.Options.CharacterConfig)
	if err != nil {
		return nil, err
	}
	prompter := generation.NewPromptWriter(chars, cfg.StyleSuffix)

	renderer, err := initializeRenderer(cfg, aiClient, httpClient, reader, writer)
	if err != nil {
		return nil, err
	}

	ttl := cfg.Options.CancelTTL
	if ttl <= 0 {
		ttl = config.DefaultCancelTTL
	}

	return pipeline.NewOrchestrator(
		store,
		checkpoint.NewMonitor(store, ttl),
		results.NewPersister(store),
		results.NewCleaner(cfg.ArtifactDir),
		extractor,
		planner,
		designer,
		prompter,
		renderer,
	), nil
}

// loadCharacters はキャラクター定義を読み込みます。未指定なら空のマップです。
func loadCharacters(path string) (domain.CharactersMap, error) {
	if path == "" {
		return domain.CharactersMap{}, nil
	}
	chars, err := domain.LoadCharacters(path)
	if err != nil {
		return nil, fmt.Errorf("キャラクター情報の取得に失敗しました: %w", err)
	}
	return chars, nil
}

// initializeRenderer は gemini-image-kit の生成エンジンを組み立てます。
func initializeRenderer(
	cfg *config.Config,
	aiClient gemini.GenerativeModel,
	httpClient httpkit.ClientInterface,
	reader remoteio.InputReader,
	writer remoteio.OutputWriter,
) (*generation.Renderer, error) {
	imgCache := gocache.New(defaultCacheExpiration, cacheCleanupInterval)
	core, err := imagekit.NewGeminiImageCore(
		aiClient,
		reader,
		httpClient,
		imgCache,
		defaultTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("GeminiImageCore の初期化に失敗しました: %w", err)
	}

	imgGen, err := imagekit.NewGeminiGenerator(cfg.GeminiImageModel, core)
	if err != nil {
		return nil, fmt.Errorf("GeminiGeneratorの初期化に失敗したのだ: %w", err)
	}

	return generation.NewRenderer(imgGen, writer, cfg.ArtifactDir), nil
}
