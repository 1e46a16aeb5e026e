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

// GeminiPlanner は章の出来事リストをページ構成計画に変換します。
// 被覆不変条件（全出来事がちょうど1ページに属する）の検証と修復は
// 呼び出し側がドメイン層の RepairCoverage で行います。
type GeminiPlanner struct {
	aiClient gemini.GenerativeModel
	model    string
	limiter  *rate.Limiter
	tmpl     *template.Template
}

// NewGeminiPlanner は GeminiPlanner を初期化します。
func NewGeminiPlanner(ai gemini.GenerativeModel, model string) (*GeminiPlanner, error) {
	templates, err := parseTemplates(map[string]string{tmplPlan: planTemplate})
	if err != nil {
		return nil, err
	}
	return &GeminiPlanner{
		aiClient: ai,
		model:    model,
		limiter:  rate.NewLimiter(rate.Every(defaultTextRateInterval), defaultTextRateBurst),
		tmpl:     templates[tmplPlan],
	}, nil
}

// PlanPages は章情報からページ構成計画を生成するのだ。
func (p *GeminiPlanner) PlanPages(ctx context.Context, info *domain.ChapterInfo) (*domain.PagePlan, error) {
	promptContent, err := renderTemplate(p.tmpl, map[string]string{
		"Summary": info.Summary,
		"Events":  formatEvents(info.Events),
	})
	if err != nil {
		return nil, &domain.GenerationError{Stage: domain.StagePlanning, Err: err}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &domain.GenerationError{Stage: domain.StagePlanning, Err: err}
	}

	resp, err := p.aiClient.GenerateContent(ctx, promptContent, p.model)
	if err != nil {
		return nil, &domain.GenerationError{Stage: domain.StagePlanning, Err: err}
	}

	var plan domain.PagePlan
	if err := decodeResponse(domain.StagePlanning, resp.Text, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// formatEvents は出来事リストをプロンプト向けの箇条書きに整形します。
func formatEvents(events []domain.ChapterEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("- [%d] %s", ev.Index, ev.Description))
		if len(ev.CharacterNames) > 0 {
			sb.WriteString(fmt.Sprintf("（登場: %s）", strings.Join(ev.CharacterNames, "、")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
