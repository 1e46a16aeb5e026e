package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shouni/go-manga-flow/internal/builder"
	"github.com/shouni/go-manga-flow/pkg/pipeline"

	"github.com/spf13/cobra"
)

// startCmd は、章テキストから漫画生成パイプラインを実行するのだ。
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "章テキストから漫画の生成パイプラインを実行しますなのだ。",
	Long: `章テキストを解析し、抽出 → ページ計画 → ネーム → プロンプト構築の順で
生成を進めるのだ。チェックポイントがあれば続きから再開するのだよ。
--with-images を付けると、プロンプト完成後に画像レンダリングまで行うのだ。`,
	RunE: startCommand,
}

func startCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.SessionKey == "" {
		return fmt.Errorf("セッションキー（--session）を指定してほしいのだ")
	}
	if opts.ChapterFile == "" && !isStdin() {
		return fmt.Errorf("章テキスト（--chapter-file、または標準入力）を指定してほしいのだ")
	}

	cfg := loadConfig()
	appCtx, err := builder.NewAppContext(ctx, cfg)
	if err != nil {
		return fmt.Errorf("アプリケーションの初期化に失敗したのだ: %w", err)
	}
	defer appCtx.Close()

	content, err := readChapterContent(ctx, appCtx)
	if err != nil {
		return err
	}

	slog.Info("漫画生成パイプラインを起動するのだ！",
		"session", opts.SessionKey,
		"text_model", cfg.GeminiModel,
		"image_model", cfg.GeminiImageModel,
		"with_images", opts.WithImages,
	)

	result, err := appCtx.Orchestrator.Run(ctx, opts.SessionKey, content, pipeline.RunOptions{
		Title:           opts.Title,
		Resume:          opts.Resume,
		WithImages:      opts.WithImages,
		SourceVersionID: opts.SourceVersionID,
		MaxConcurrency:  opts.MaxConcurrency,
	}, progressLogger())
	if err != nil {
		return fmt.Errorf("パイプライン実行中にエラーが発生したのだ: %w", err)
	}

	slog.Info("すべての生成工程が完了したのだ！",
		"session", opts.SessionKey,
		"pages", result.TotalPages,
	)
	return nil
}

// readChapterContent は章テキストをファイルまたは標準入力から読み込むのだ。
func readChapterContent(ctx context.Context, appCtx *builder.AppContext) (string, error) {
	if opts.ChapterFile != "" && opts.ChapterFile != "-" {
		rc, err := appCtx.Reader.Open(ctx, opts.ChapterFile)
		if err != nil {
			return "", fmt.Errorf("章テキスト '%s' の読み込みに失敗したのだ: %w", opts.ChapterFile, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("標準入力の読み込みに失敗したのだ: %w", err)
	}
	return string(data), nil
}

// progressLogger は進捗イベントを構造化ログとして流す ProgressSink です。
func progressLogger() pipeline.ProgressSink {
	return pipeline.SinkFunc(func(ev pipeline.ProgressEvent) {
		slog.Info("進捗",
			"session", ev.SessionKey,
			"stage", string(ev.Stage),
			"current", ev.Current,
			"total", ev.Total,
			"page", ev.Page,
			"message", ev.Message,
		)
	})
}

func isStdin() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
