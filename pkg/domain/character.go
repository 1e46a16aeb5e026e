package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
)

// Character は漫画に登場するキャラクターの視覚定義（DNA）を保持します。
// 抽出された登場人物名と突き合わせて、プロンプトへの特徴注入と
// シード固定によるキャラクターの一貫性維持に使います。
type Character struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	VisualCues   []string `json:"visual_cues"`
	ReferenceURL string   `json:"reference_url"`
	Seed         int64    `json:"seed"`
}

// CharactersMap はIDをキーとしたキャラクターの検索用マップなのだ。
type CharactersMap map[string]Character

// LoadCharacters は指定されたJSONファイルからキャラクター定義を読み込むのだ。
func LoadCharacters(path string) (CharactersMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("キャラクターファイルの読み込みに失敗したのだ: %w", err)
	}

	var chars CharactersMap
	if err := json.Unmarshal(data, &chars); err != nil {
		return nil, fmt.Errorf("キャラクター設定のデコードに失敗したのだ: %w", err)
	}
	return chars, nil
}

// Get はIDからキャラクターを引きます。見つからない場合は nil を返します。
func (m CharactersMap) Get(id string) *Character {
	if c, ok := m[id]; ok {
		return &c
	}
	return nil
}

// SeedFor はキャラクターに割り当てるシード値を解決するのだ。
// 定義済みならそのシードを、未登録なら名前から決定論的に導出するのだ。
func (m CharactersMap) SeedFor(id string) int64 {
	if c, ok := m[id]; ok && c.Seed != 0 {
		return c.Seed
	}
	return int64(GetSeedFromName(id))
}

// GetSeedFromName は名前から決定論的なシード値を生成します。
func GetSeedFromName(name string) int32 {
	hash := sha256.Sum256([]byte(name))
	seed := int32(binary.BigEndian.Uint32(hash[:4]))
	// Geminiのシード値は正の数が望ましいため、最上位ビットを落とすのが安全なのだ
	return seed & 0x7FFFFFFF
}
