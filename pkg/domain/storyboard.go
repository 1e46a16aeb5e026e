package domain

import (
	"fmt"
	"sort"
)

// Panel はネーム上の1コマの設計です。
type Panel struct {
	Index        int    `json:"index"` // ページ内の 1 始まりの連番
	VisualAnchor string `json:"visual_anchor"`
	Dialogue     string `json:"dialogue"`
	SpeakerID    string `json:"speaker_id"`
	CameraNote   string `json:"camera_note"`
}

// StoryboardPage は1ページ分のネーム（コマ割り設計）です。
type StoryboardPage struct {
	PageNumber   int     `json:"page_number"`
	Panels       []Panel `json:"panels"`
	EventIndices []int   `json:"event_indices"`
	LayoutHint   string  `json:"layout_hint"`
}

// Storyboard は章全体のネームです。
type Storyboard struct {
	Pages []StoryboardPage `json:"pages"`
}

// SortPages はページをページ番号の昇順に並べ替えます。
func (s *Storyboard) SortPages() {
	sort.Slice(s.Pages, func(i, j int) bool {
		return s.Pages[i].PageNumber < s.Pages[j].PageNumber
	})
}

// Validate はページ番号が1から始まる連続した一意な列であることを検証するのだ。
// 呼び出し前に SortPages で昇順にしておくのだ。
func (s *Storyboard) Validate() error {
	if len(s.Pages) == 0 {
		return fmt.Errorf("ネームにページが1つも含まれていません")
	}
	for i, page := range s.Pages {
		want := i + 1
		if page.PageNumber != want {
			return fmt.Errorf("ページ番号が連続していません: %d 番目のページ番号が %d でした", want, page.PageNumber)
		}
	}
	return nil
}

// Page はページ番号からネームのページを引きます。見つからない場合は nil を返します。
func (s *Storyboard) Page(number int) *StoryboardPage {
	for i := range s.Pages {
		if s.Pages[i].PageNumber == number {
			return &s.Pages[i]
		}
	}
	return nil
}
