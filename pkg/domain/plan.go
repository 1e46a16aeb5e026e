package domain

import (
	"fmt"
	"sort"
)

// FallbackPanelCount は簡易計画でページに割り当てる推奨パネル数です。
const FallbackPanelCount = 4

// PagePlanItem は1ページ分の構成案です。
// EventIndices はこのページが担当する出来事のインデックス集合で、
// 章全体では各インデックスがちょうど1ページに属していなければなりません。
type PagePlanItem struct {
	PageNumber          int    `json:"page_number"`
	EventIndices        []int  `json:"event_indices"`
	SuggestedPanelCount int    `json:"suggested_panel_count"`
	Synopsis            string `json:"synopsis"`
}

// PagePlan はページ構成計画の全体です。
type PagePlan struct {
	Pages []PagePlanItem `json:"pages"`
}

// PageNumbers は計画に含まれるページ番号を昇順で返します。
func (p *PagePlan) PageNumbers() []int {
	nums := make([]int, 0, len(p.Pages))
	for _, item := range p.Pages {
		nums = append(nums, item.PageNumber)
	}
	sort.Ints(nums)
	return nums
}

// RepairCoverage は出来事インデックスの被覆不変条件を検証し、自動修復するのだ。
//   - 重複した割り当ては最初に現れたページの所有とし、以降からは取り除くのだ。
//   - どのページにも属さない孤児インデックスは最後のページに追記するのだ。
//
// 修復で追記したインデックスを返すのだ（テストと進捗ログで使うのだ）。
func (p *PagePlan) RepairCoverage(totalEvents int) ([]int, error) {
	if len(p.Pages) == 0 {
		return nil, fmt.Errorf("ページ計画が空のため被覆を修復できません")
	}

	seen := make(map[int]struct{}, totalEvents)
	for i := range p.Pages {
		kept := p.Pages[i].EventIndices[:0]
		for _, idx := range p.Pages[i].EventIndices {
			if idx < 0 || idx >= totalEvents {
				// 範囲外のインデックスは生成の揺らぎとして黙って捨てる
				continue
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			kept = append(kept, idx)
		}
		p.Pages[i].EventIndices = kept
	}

	var orphans []int
	for idx := 0; idx < totalEvents; idx++ {
		if _, ok := seen[idx]; !ok {
			orphans = append(orphans, idx)
		}
	}

	if len(orphans) > 0 {
		last := &p.Pages[len(p.Pages)-1]
		last.EventIndices = append(last.EventIndices, orphans...)
	}

	return orphans, nil
}

// FallbackPlan は出来事が少なすぎる章のための決定的な簡易計画を返すのだ。
// AI を呼ばず、1出来事 = 1ページで割り付けるのだ。
func FallbackPlan(info *ChapterInfo) *PagePlan {
	plan := &PagePlan{Pages: make([]PagePlanItem, 0, len(info.Events))}
	for i, ev := range info.Events {
		plan.Pages = append(plan.Pages, PagePlanItem{
			PageNumber:          i + 1,
			EventIndices:        []int{ev.Index},
			SuggestedPanelCount: FallbackPanelCount,
			Synopsis:            ev.Description,
		})
	}
	return plan
}
