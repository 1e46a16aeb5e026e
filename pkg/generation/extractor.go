package generation

import (
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"golang.org/x/time/rate"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

const (
	tmplEntityEvent = "entity_event"
	tmplDialogue    = "dialogue"
	tmplScene       = "scene"
	tmplItemSummary = "item_summary"
	tmplPlan        = "plan"
	tmplStoryboard  = "storyboard"

	// defaultTextRateInterval はテキスト生成APIの呼び出し間隔です。
	defaultTextRateInterval = 2 * time.Second
	defaultTextRateBurst    = 2
)

// GeminiExtractor は章テキストから構造化情報を抽出するのだ。
// 抽出は4つの固定ステップに分かれ、各ステップが独立した1回のAI呼び出しなのだ。
type GeminiExtractor struct {
	aiClient  gemini.GenerativeModel
	model     string
	limiter   *rate.Limiter
	templates map[string]*template.Template
}

// NewGeminiExtractor は GeminiExtractor を初期化します。
func NewGeminiExtractor(ai gemini.GenerativeModel, model string) (*GeminiExtractor, error) {
	templates, err := parseTemplates(map[string]string{
		tmplEntityEvent: entityEventTemplate,
		tmplDialogue:    dialogueTemplate,
		tmplScene:       sceneTemplate,
		tmplItemSummary: itemSummaryTemplate,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiExtractor{
		aiClient:  ai,
		model:     model,
		limiter:   rate.NewLimiter(rate.Every(defaultTextRateInterval), defaultTextRateBurst),
		templates: templates,
	}, nil
}

// generate はレート制限を待ってからテキスト生成を1回実行し、
// 応答のJSONを v にデコードする共通処理なのだ。
func (e *GeminiExtractor) generate(ctx context.Context, stage domain.Stage, tmplName string, data, v any) error {
	promptContent, err := renderTemplate(e.templates[tmplName], data)
	if err != nil {
		return &domain.GenerationError{Stage: stage, Err: err}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return &domain.GenerationError{Stage: stage, Err: err}
	}

	resp, err := e.aiClient.GenerateContent(ctx, promptContent, e.model)
	if err != nil {
		return &domain.GenerationError{Stage: stage, Err: err}
	}

	return decodeResponse(stage, resp.Text, v)
}

// ExtractEntities はステップ1（登場人物と出来事）を実行します。
func (e *GeminiExtractor) ExtractEntities(ctx context.Context, content string) (*domain.EntityEventInfo, error) {
	var info domain.EntityEventInfo
	err := e.generate(ctx, domain.StageExtraction, tmplEntityEvent, map[string]string{"Content": content}, &info)
	if err != nil {
		return nil, err
	}
	// AIが採番をずらした場合に備えて時系列順の連番に振り直すのだ
	for i := range info.Events {
		info.Events[i].Index = i
	}
	return &info, nil
}

// ExtractDialogues はステップ2（セリフ）を実行します。
// 抽出済みの登場人物名を渡すことで、話者名のゆらぎを抑えます。
func (e *GeminiExtractor) ExtractDialogues(ctx context.Context, content string, characters []domain.ChapterCharacter) (*domain.DialogueInfo, error) {
	names := make([]string, 0, len(characters))
	for _, c := range characters {
		names = append(names, c.Name)
	}

	var info domain.DialogueInfo
	err := e.generate(ctx, domain.StageExtraction, tmplDialogue, map[string]string{
		"Content": content,
		"Names":   strings.Join(names, "、"),
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ExtractScenes はステップ3（場面）を実行します。
func (e *GeminiExtractor) ExtractScenes(ctx context.Context, content string) (*domain.SceneList, error) {
	var info domain.SceneList
	err := e.generate(ctx, domain.StageExtraction, tmplScene, map[string]string{"Content": content}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ExtractItems はステップ4（小道具と要約）を実行します。
func (e *GeminiExtractor) ExtractItems(ctx context.Context, content string) (*domain.ItemSummaryInfo, error) {
	var info domain.ItemSummaryInfo
	err := e.generate(ctx, domain.StageExtraction, tmplItemSummary, map[string]string{"Content": content}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
