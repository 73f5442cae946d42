package handlers

import (
	"strconv"
	"strings"
	"time"
)

// findIndex finds the index of the first candidate in a slice
func findIndex(slice []string, candidates ...string) int {
	for _, candidate := range candidates {
		for i, item := range slice {
			if strings.EqualFold(strings.TrimSpace(item), candidate) {
				return i
			}
		}
	}
	return -1
}

// parseFlexibleDate 複数の日付書式を順に試して正規化された日付文字列を返す
func parseFlexibleDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006/1/2", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// cellFloat セル値を数値に変換（空・変換失敗は0）
func cellFloat(row []string, idx int) float64 {
	if idx < 0 || idx >= len(row) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	if err != nil {
		return 0
	}
	return v
}

// cellInt セル値を0/1フラグに変換（true/false表記も受け付ける）
func cellInt(row []string, idx int) int {
	if idx < 0 || idx >= len(row) {
		return 0
	}
	s := strings.ToLower(strings.TrimSpace(row[idx]))
	switch s {
	case "true", "yes", "はい":
		return 1
	case "", "false", "no", "いいえ":
		return 0
	}
	if v, err := strconv.Atoi(s); err == nil && v != 0 {
		return 1
	}
	return 0
}

// cellString セル値を文字列として取得（範囲外は空文字）
func cellString(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// cellList カンマまたはパイプ区切りのセル値をリストに分解
func cellList(row []string, idx int) []string {
	raw := cellString(row, idx)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '|' })
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
