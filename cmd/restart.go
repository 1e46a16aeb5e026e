package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-manga-flow/internal/builder"
	"github.com/shouni/go-manga-flow/pkg/domain"
	"github.com/shouni/go-manga-flow/pkg/pipeline"

	"github.com/spf13/cobra"
)

// restartCmd は、指定した工程からセッションをやり直すのだ。
// 指定工程以降のチェックポイントと成果物は破棄され、上流の結果は再利用されるのだよ。
var restartCmd = &cobra.Command{
	Use:   "restart <stage>",
	Short: "指定した工程からセッションをやり直しますなのだ。",
	Long: `既存セッションのチェックポイントを指定工程まで巻き戻して再実行するのだ。
指定できる工程: extraction / planning / storyboard / prompt_building / page_prompt_building。
image_generation からの再開はできないのだ（--with-images で再実行してほしいのだ）。`,
	Args: cobra.ExactArgs(1),
	RunE: restartCommand,
}

func restartCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.SessionKey == "" {
		return fmt.Errorf("セッションキー（--session）を指定してほしいのだ")
	}

	fromStage, err := domain.ParseStage(args[0])
	if err != nil {
		return fmt.Errorf("工程名の解釈に失敗したのだ: %w", err)
	}

	cfg := loadConfig()
	appCtx, err := builder.NewAppContext(ctx, cfg)
	if err != nil {
		return fmt.Errorf("アプリケーションの初期化に失敗したのだ: %w", err)
	}
	defer appCtx.Close()

	// 抽出からやり直す場合だけ章テキストが要るのだ
	var content string
	if fromStage == domain.StageExtraction {
		if opts.ChapterFile == "" && !isStdin() {
			return fmt.Errorf("抽出からのやり直しには章テキスト（--chapter-file、または標準入力）が必要なのだ")
		}
		content, err = readChapterContent(ctx, appCtx)
		if err != nil {
			return err
		}
	} else if opts.ChapterFile != "" || isStdin() {
		content, err = readChapterContent(ctx, appCtx)
		if err != nil {
			return err
		}
	}

	slog.Info("工程を巻き戻して再実行するのだ！",
		"session", opts.SessionKey,
		"from_stage", string(fromStage),
	)

	result, err := appCtx.Orchestrator.Restart(ctx, opts.SessionKey, content, fromStage, pipeline.RunOptions{
		Title:           opts.Title,
		WithImages:      opts.WithImages,
		SourceVersionID: opts.SourceVersionID,
		MaxConcurrency:  opts.MaxConcurrency,
	}, progressLogger())
	if err != nil {
		return fmt.Errorf("再実行中にエラーが発生したのだ: %w", err)
	}

	slog.Info("やり直しが完了したのだ！",
		"session", opts.SessionKey,
		"pages", result.TotalPages,
	)
	return nil
}
