package domain

import (
	"reflect"
	"sort"
	"testing"
)

func collectIndices(plan *PagePlan) []int {
	var all []int
	for _, p := range plan.Pages {
		all = append(all, p.EventIndices...)
	}
	sort.Ints(all)
	return all
}

func TestPagePlan_RepairCoverage(t *testing.T) {
	t.Run("孤児インデックスは最後のページに追記されるのだ", func(t *testing.T) {
		plan := &PagePlan{Pages: []PagePlanItem{
			{PageNumber: 1, EventIndices: []int{0, 1}},
			{PageNumber: 2, EventIndices: []int{3}},
		}}

		orphans, err := plan.RepairCoverage(5)
		if err != nil {
			t.Fatalf("修復に失敗したのだ: %v", err)
		}
		if !reflect.DeepEqual(orphans, []int{2, 4}) {
			t.Errorf("孤児の検出結果が違うのだ: %v", orphans)
		}
		if !reflect.DeepEqual(plan.Pages[1].EventIndices, []int{3, 2, 4}) {
			t.Errorf("最後のページへの追記が正しくないのだ: %v", plan.Pages[1].EventIndices)
		}
		// 被覆不変条件: 全インデックスがちょうど1回ずつ現れる
		if got := collectIndices(plan); !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4}) {
			t.Errorf("被覆が壊れているのだ: %v", got)
		}
	})

	t.Run("重複割り当ては最初のページの所有になるのだ", func(t *testing.T) {
		plan := &PagePlan{Pages: []PagePlanItem{
			{PageNumber: 1, EventIndices: []int{0, 1}},
			{PageNumber: 2, EventIndices: []int{1, 2}},
		}}

		if _, err := plan.RepairCoverage(3); err != nil {
			t.Fatalf("修復に失敗したのだ: %v", err)
		}
		if !reflect.DeepEqual(plan.Pages[0].EventIndices, []int{0, 1}) {
			t.Errorf("先勝ちになっていないのだ: %v", plan.Pages[0].EventIndices)
		}
		if !reflect.DeepEqual(plan.Pages[1].EventIndices, []int{2}) {
			t.Errorf("重複が除去されていないのだ: %v", plan.Pages[1].EventIndices)
		}
	})

	t.Run("範囲外インデックスは黙って捨てられるのだ", func(t *testing.T) {
		plan := &PagePlan{Pages: []PagePlanItem{
			{PageNumber: 1, EventIndices: []int{0, 7, -1, 1}},
		}}
		if _, err := plan.RepairCoverage(2); err != nil {
			t.Fatalf("修復に失敗したのだ: %v", err)
		}
		if got := collectIndices(plan); !reflect.DeepEqual(got, []int{0, 1}) {
			t.Errorf("範囲外が残っているのだ: %v", got)
		}
	})

	t.Run("空の計画はエラーになるのだ", func(t *testing.T) {
		plan := &PagePlan{}
		if _, err := plan.RepairCoverage(3); err == nil {
			t.Error("空の計画でエラーが返らないのだ")
		}
	})
}

func TestFallbackPlan(t *testing.T) {
	t.Run("出来事2件なら1出来事1ページでパネル数4になるのだ", func(t *testing.T) {
		info := &ChapterInfo{Events: []ChapterEvent{
			{Index: 0, Description: "出会い"},
			{Index: 1, Description: "別れ"},
		}}

		plan := FallbackPlan(info)
		if len(plan.Pages) != 2 {
			t.Fatalf("ページ数が違うのだ: %d", len(plan.Pages))
		}
		for i, page := range plan.Pages {
			if page.PageNumber != i+1 {
				t.Errorf("ページ番号が違うのだ: %d", page.PageNumber)
			}
			if len(page.EventIndices) != 1 || page.EventIndices[0] != i {
				t.Errorf("出来事の割り当てが違うのだ: %v", page.EventIndices)
			}
			if page.SuggestedPanelCount != 4 {
				t.Errorf("推奨パネル数が4ではないのだ: %d", page.SuggestedPanelCount)
			}
		}
	})
}
