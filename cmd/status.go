package cmd

import (
	"context"
	"fmt"

	"github.com/shouni/go-manga-flow/internal/builder"
	"github.com/shouni/go-manga-flow/pkg/checkpoint"

	"github.com/spf13/cobra"
)

// statusCmd は、セッションの進行状況を表示するのだ。APIキーは不要なのだよ。
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "セッションの工程・状態・進捗を表示しますなのだ。",
	RunE:  statusCommand,
}

func statusCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := loadConfig()
	store, closeStore, err := builder.InitializeStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ストアの初期化に失敗したのだ: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	// セッション未指定のときは、一覧を出せるストアなら全件を表示するのだ
	if opts.SessionKey == "" {
		fs, ok := store.(*checkpoint.FileStore)
		if !ok {
			return fmt.Errorf("セッションキー（--session）を指定してほしいのだ")
		}
		keys, err := fs.List(ctx)
		if err != nil {
			return fmt.Errorf("セッション一覧の取得に失敗したのだ: %w", err)
		}
		if len(keys) == 0 {
			cmd.Println("セッションはまだ無いのだ。")
			return nil
		}
		for _, key := range keys {
			if err := printSession(ctx, cmd, store, key); err != nil {
				return err
			}
		}
		return nil
	}

	return printSession(ctx, cmd, store, opts.SessionKey)
}

// printSession は1セッション分の状態を1行で出力するのだ。
func printSession(ctx context.Context, cmd *cobra.Command, store checkpoint.Store, key string) error {
	session, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("セッション '%s' の取得に失敗したのだ: %w", key, err)
	}

	line := fmt.Sprintf("%s\tstage=%s\tstatus=%s", session.SessionKey, session.Stage, session.Status)
	if session.Progress.Total > 0 {
		line += fmt.Sprintf("\tprogress=%d/%d", session.Progress.Current, session.Progress.Total)
	}
	if result, err := store.GetResult(ctx, key); err == nil && result != nil && result.RenderStats != nil {
		line += fmt.Sprintf("\trender=%d成功/%d失敗", result.RenderStats.Succeeded, result.RenderStats.Failed)
	}
	if session.SourceVersionID != "" {
		line += fmt.Sprintf("\tsource=%s", session.SourceVersionID)
	}
	if !session.UpdatedAt.IsZero() {
		line += fmt.Sprintf("\tupdated=%s", session.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	cmd.Println(line)
	return nil
}
