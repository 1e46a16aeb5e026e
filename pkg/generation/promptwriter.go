package generation

import (
	"fmt"
	"strings"

	"github.com/shouni/go-manga-flow/pkg/domain"
)

const (
	// cinematicTags はクオリティ向上のための共通タグです。
	cinematicTags = "cinematic composition, high resolution, sharp focus, 8k"

	// renderingStyle は共通の画風を定義します。
	renderingStyle = `### GLOBAL VISUAL STYLE ###
- RENDERING: Sharp clean lineart, vibrant colors, no blurring, high contrast, cinematic manga lighting.`

	// pageStructureHeader は統合ページの作画ルールを定義します。
	pageStructureHeader = `### FORMAT RULES: FULL COLOR ANIME MANGA ###
- STYLE: Vibrant Full Color Digital Anime Style. High saturation, cinematic lighting.
- RENDERING: Sharp clean lineart with professional digital coloring. NO screentones.
- LAYOUT: Strict multi-panel composition. Use ONLY the specified number of panels.
- BORDERS: Deep black, crisp frame borders for EVERY panel.
- GUTTERS: Pure white space between panels.
- READING FLOW: Right-to-Left, Top-to-Bottom.`

	panelSystemInstruction = "You are a professional anime illustrator. Create a single high-quality cinematic scene with vibrant digital coloring."
	pageSystemInstruction  = "You are a master digital artist. You MUST follow the exact panel count and layout rules. Character identity MUST match the character master definitions."
)

// PromptWriter はネームから画像生成プロンプトを組み立てるのだ。
// AI を呼ばない決定的な変換なので、同じネームからは常に同じプロンプトが出るのだ。
type PromptWriter struct {
	characters  domain.CharactersMap
	styleSuffix string
}

// NewPromptWriter は PromptWriter を初期化します。
// characters は nil でも動作し、その場合は話者IDをそのまま表示名として使います。
func NewPromptWriter(characters domain.CharactersMap, styleSuffix string) *PromptWriter {
	return &PromptWriter{characters: characters, styleSuffix: styleSuffix}
}

// BuildPanelPrompts は1ページ分の全コマのパネルプロンプトを構築します。
func (w *PromptWriter) BuildPanelPrompts(page *domain.StoryboardPage) []domain.PanelPrompt {
	systemPrompt := w.buildSystemPrompt(panelSystemInstruction, renderingStyle)

	prompts := make([]domain.PanelPrompt, 0, len(page.Panels))
	for _, panel := range page.Panels {
		prompts = append(prompts, domain.PanelPrompt{
			PageNumber:   page.PageNumber,
			PanelIndex:   panel.Index,
			UserPrompt:   w.buildPanelUserPrompt(panel),
			SystemPrompt: systemPrompt,
			Seed:         w.seedFor(panel.SpeakerID),
		})
	}
	return prompts
}

// BuildPagePrompt は1ページ全体を1枚絵として統合生成するためのプロンプトを構築するのだ。
func (w *PromptWriter) BuildPagePrompt(title string, page *domain.StoryboardPage) *domain.PagePrompt {
	var us strings.Builder
	fmt.Fprintf(&us, "# FULL COLOR PAGE PRODUCTION REQUEST: %s (Page %d)\n", title, page.PageNumber)
	us.WriteString("- OUTPUT: ONE single portrait manga page image.\n")
	us.WriteString("- COLOR: STRICTLY VIBRANT FULL COLOR. NO monochrome, NO screentones.\n")
	fmt.Fprintf(&us, "- PANEL COUNT: [ %d ] (STRICTLY ONLY %d PANELS. DO NOT ADD ANY MORE).\n", len(page.Panels), len(page.Panels))
	if page.LayoutHint != "" {
		fmt.Fprintf(&us, "- LAYOUT HINT: %s\n", page.LayoutHint)
	}
	us.WriteString("\n")

	w.writeCharacterIdentity(&us, page)

	us.WriteString("## PANEL BREAKDOWN\n")
	for _, panel := range page.Panels {
		fmt.Fprintf(&us, "### PANEL %d\n", panel.Index)
		name := w.displayName(panel.SpeakerID)
		anchor := strings.ReplaceAll(panel.VisualAnchor, panel.SpeakerID, name)
		fmt.Fprintf(&us, "- SUBJECT: %s\n- ACTION: %s\n", name, anchor)
		if panel.CameraNote != "" {
			fmt.Fprintf(&us, "- CAMERA: %s\n", panel.CameraNote)
		}
		if panel.Dialogue != "" {
			fmt.Fprintf(&us, "- SPEECH: Speech bubble for [%s].\n", name)
			fmt.Fprintf(&us, "  - TEXT_TO_RENDER: \"%s\"\n", sanitizeInline(panel.Dialogue))
			us.WriteString("  - LANGUAGE: Japanese characters. Ensure each Kanji/Kana is rendered accurately and legibly.\n")
		}
		us.WriteString("\n")
	}

	return &domain.PagePrompt{
		PageNumber:    page.PageNumber,
		UserPrompt:    us.String(),
		SystemPrompt:  w.buildSystemPrompt(pageSystemInstruction, pageStructureHeader, renderingStyle),
		ReferenceURLs: w.collectReferences(page),
	}
}

// buildSystemPrompt は共通指示とスタイルサフィックスを結合します。
func (w *PromptWriter) buildSystemPrompt(parts ...string) string {
	all := append(parts, cinematicTags)
	if w.styleSuffix != "" {
		all = append(all, fmt.Sprintf("### ARTISTIC STYLE ###\n%s", w.styleSuffix))
	}
	return strings.Join(all, "\n\n")
}

// buildPanelUserPrompt は1コマ分のユーザープロンプトを構築します。
func (w *PromptWriter) buildPanelUserPrompt(panel domain.Panel) string {
	name := w.displayName(panel.SpeakerID)

	var visualParts []string
	if panel.VisualAnchor != "" {
		visualParts = append(visualParts, strings.ReplaceAll(panel.VisualAnchor, panel.SpeakerID, name))
	} else {
		// Anchor が空の場合のフォールバック
		visualParts = append(visualParts, fmt.Sprintf("%s character, character focus", name))
	}
	if char := w.characters.Get(panel.SpeakerID); char != nil {
		visualParts = append(visualParts, char.VisualCues...)
	}
	if panel.CameraNote != "" {
		visualParts = append(visualParts, panel.CameraNote)
	}
	visualParts = append(visualParts, "vibrant full color", "cinematic lighting", "high quality")

	cleanParts := make([]string, 0, len(visualParts))
	for _, p := range visualParts {
		if s := strings.TrimSpace(p); s != "" {
			cleanParts = append(cleanParts, s)
		}
	}
	return strings.Join(cleanParts, ", ")
}

// writeCharacterIdentity は登場キャラの視覚的特徴をマスター定義として出力するのだ。
func (w *PromptWriter) writeCharacterIdentity(us *strings.Builder, page *domain.StoryboardPage) {
	written := make(map[string]struct{})
	var lines []string
	for _, panel := range page.Panels {
		char := w.characters.Get(panel.SpeakerID)
		if char == nil {
			continue
		}
		if _, done := written[char.ID]; done {
			continue
		}
		written[char.ID] = struct{}{}
		cues := "None"
		if len(char.VisualCues) > 0 {
			cues = strings.Join(char.VisualCues, ", ")
		}
		lines = append(lines, fmt.Sprintf("- SUBJECT [%s]: VISUAL_FEATURES: {%s}", char.Name, cues))
	}
	if len(lines) == 0 {
		return
	}
	us.WriteString("### CHARACTER MASTER DEFINITIONS (STRICT IDENTITY) ###\n")
	us.WriteString(strings.Join(lines, "\n"))
	us.WriteString("\n\n")
}

// collectReferences はページ内の話者の参照画像URLを重複なく収集します。
func (w *PromptWriter) collectReferences(page *domain.StoryboardPage) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, panel := range page.Panels {
		char := w.characters.Get(panel.SpeakerID)
		if char == nil || char.ReferenceURL == "" {
			continue
		}
		if _, ok := seen[char.ReferenceURL]; ok {
			continue
		}
		seen[char.ReferenceURL] = struct{}{}
		urls = append(urls, char.ReferenceURL)
	}
	return urls
}

// displayName は話者IDを表示名に解決します。未登録のIDはそのまま返します。
func (w *PromptWriter) displayName(speakerID string) string {
	if char := w.characters.Get(speakerID); char != nil {
		return char.Name
	}
	return speakerID
}

// seedFor は話者に対応するシード値を返します。
func (w *PromptWriter) seedFor(speakerID string) int64 {
	if w.characters == nil {
		return int64(domain.GetSeedFromName(speakerID))
	}
	return w.characters.SeedFor(speakerID)
}

// sanitizeInline は改行や連続空白を1スペースに畳み込みます。
func sanitizeInline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
