package domain

// このファイルはチェックポイントに対する純粋関数群です。
// どの工程から再開できるか、指定された再開起点が妥当か、起点より下流の
// データをどう破棄するかをここで決めます。副作用は ClearFrom のみで、
// それも渡されたチェックポイントの中に閉じています。

// DetermineStartStage は再開すべき工程を決定するのだ。
// requested が有効な再開起点ならそれを尊重し、そうでなければ
// チェックポイントの中身から「最も先まで進める工程」を推定するのだ。
func DetermineStartStage(data *CheckpointData, requested Stage) Stage {
	if requested.Restartable() {
		return requested
	}
	if data == nil {
		return StageExtraction
	}
	switch {
	case data.Storyboard != nil:
		return StagePromptBuilding
	case data.PagePlan != nil:
		return StageStoryboard
	case data.ChapterInfo != nil:
		return StagePlanning
	default:
		// 抽出ステップの途中保存があっても起点は抽出工程。
		// ステップ単位の飛ばし判定は工程内部で行われる。
		return StageExtraction
	}
}

// ValidateStartStage は requested から再開するための上流データが
// チェックポイントに揃っているかを検証します。
// 問題がなければ nil、欠けていれば *PreconditionError を返します。
func ValidateStartStage(requested Stage, data *CheckpointData) error {
	if !requested.Restartable() {
		return &PreconditionError{Requested: requested, Missing: "再開起点として指定できない工程です"}
	}
	if requested == StageExtraction {
		return nil
	}
	if data == nil {
		return &PreconditionError{Requested: requested, Missing: "チェックポイントが存在しません"}
	}

	if data.ChapterInfo == nil {
		return &PreconditionError{Requested: requested, Missing: "章情報 (chapter_info) が未生成です"}
	}
	if requested == StagePlanning {
		return nil
	}

	if data.PagePlan == nil {
		return &PreconditionError{Requested: requested, Missing: "ページ計画 (page_plan) が未生成です"}
	}
	if requested == StageStoryboard {
		return nil
	}

	if data.Storyboard == nil {
		return &PreconditionError{Requested: requested, Missing: "ネーム (storyboard) が未生成です"}
	}
	if requested == StagePromptBuilding {
		return nil
	}

	// StagePagePromptBuilding
	if data.PanelPrompts == nil {
		return &PreconditionError{Requested: requested, Missing: "パネルプロンプト (panel_prompts) が未生成です"}
	}
	return nil
}

// ClearFrom は stage 自身の出力と、そこから下流の全出力・途中進捗を
// チェックポイントから取り除くのだ。上流のキーには触れないのだ。
// これが「工程Xからやり直す」を安全で冪等な操作にする仕組みなのだ。
func (d *CheckpointData) ClearFrom(stage Stage) {
	if d == nil {
		return
	}
	// fallthrough で上流指定ほど広く消えるように並べている
	switch stage {
	case StageExtraction:
		d.ExtractionStep1 = nil
		d.ExtractionStep2 = nil
		d.ExtractionStep3 = nil
		d.ExtractionStep4 = nil
		d.ChapterInfo = nil
		fallthrough
	case StagePlanning:
		d.PagePlan = nil
		fallthrough
	case StageStoryboard:
		d.DesignedPages = nil
		d.Storyboard = nil
		fallthrough
	case StagePromptBuilding:
		d.CompletedPanelPages = nil
		d.PanelPrompts = nil
		fallthrough
	case StagePagePromptBuilding:
		d.CompletedPromptPages = nil
		d.PagePrompts = nil
	}
}
