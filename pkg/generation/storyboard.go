package generation

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"golang.org/x/time/rate"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

// GeminiStoryboardDesigner は構成計画の1ページ分からネーム（コマ割り）を設計します。
// ページ単位の独立した呼び出しなので、並列実行と途中再開の単位になります。
type GeminiStoryboardDesigner struct {
	aiClient gemini.GenerativeModel
	model    string
	limiter  *rate.Limiter
	tmpl     *template.Template
}

// NewGeminiStoryboardDesigner は GeminiStoryboardDesigner を初期化します。
func NewGeminiStoryboardDesigner(ai gemini.GenerativeModel, model string) (*GeminiStoryboardDesigner, error) {
	templates, err := parseTemplates(map[string]string{tmplStoryboard: storyboardTemplate})
	if err != nil {
		return nil, err
	}
	return &GeminiStoryboardDesigner{
		aiClient: ai,
		model:    model,
		limiter:  rate.NewLimiter(rate.Every(defaultTextRateInterval), defaultTextRateBurst),
		tmpl:     templates[tmplStoryboard],
	}, nil
}

// DesignPage は計画の1ページ分からネームを生成するのだ。
// AIの応答に含まれるページ番号やコマ番号のゆらぎは、ここで計画側の値に正規化するのだ。
func (d *GeminiStoryboardDesigner) DesignPage(ctx context.Context, info *domain.ChapterInfo, item domain.PagePlanItem) (*domain.StoryboardPage, error) {
	promptContent, err := renderTemplate(d.tmpl, map[string]any{
		"PageNumber": item.PageNumber,
		"Synopsis":   item.Synopsis,
		"Events":     formatEvents(pickEvents(info.Events, item.EventIndices)),
		"Dialogues":  formatDialogues(info.Dialogues, item.EventIndices),
		"PanelCount": item.SuggestedPanelCount,
	})
	if err != nil {
		return nil, &domain.GenerationError{Stage: domain.StageStoryboard, Err: err}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, &domain.GenerationError{Stage: domain.StageStoryboard, Err: err}
	}

	resp, err := d.aiClient.GenerateContent(ctx, promptContent, d.model)
	if err != nil {
		return nil, &domain.GenerationError{Stage: domain.StageStoryboard, Err: err}
	}

	var page domain.StoryboardPage
	if err := decodeResponse(domain.StageStoryboard, resp.Text, &page); err != nil {
		return nil, err
	}
	if len(page.Panels) == 0 {
		return nil, &domain.GenerationError{
			Stage: domain.StageStoryboard,
			Err:   fmt.Errorf("ページ %d のネームにコマが1つも含まれていません", item.PageNumber),
		}
	}

	// 応答側の採番は信用せず、計画側の値で上書きする
	page.PageNumber = item.PageNumber
	page.EventIndices = item.EventIndices
	for i := range page.Panels {
		page.Panels[i].Index = i + 1
	}
	return &page, nil
}

// pickEvents は指定インデックスの出来事だけを抜き出します。
func pickEvents(events []domain.ChapterEvent, indices []int) []domain.ChapterEvent {
	want := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		want[idx] = struct{}{}
	}
	picked := make([]domain.ChapterEvent, 0, len(indices))
	for _, ev := range events {
		if _, ok := want[ev.Index]; ok {
			picked = append(picked, ev)
		}
	}
	return picked
}

// formatDialogues は対象の出来事に紐づくセリフを箇条書きに整形します。
func formatDialogues(lines []domain.DialogueLine, indices []int) string {
	want := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		want[idx] = struct{}{}
	}
	var sb strings.Builder
	for _, line := range lines {
		if _, ok := want[line.EventIndex]; !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s:「%s」\n", line.Speaker, line.Text))
	}
	if sb.Len() == 0 {
		return "（このページに対応するセリフはありません）"
	}
	return sb.String()
}
