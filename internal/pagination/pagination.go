// Package pagination 实现基于游标的 keyset 分页。
//
// 游标就是上一页最后一条记录的 ID（十进制字符串）。查询时多取一条：
// 取到 limit+1 条说明还有下一页。
package pagination

import (
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Page 分页结果
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Empty 返回没有数据的一页，Items 序列化为 []
func Empty[T any]() Page[T] {
	return Page[T]{Items: []T{}}
}

// ParseCursor 空字符串或非法值都视为第一页
func ParseCursor(cursor string) (uint, bool) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func FormatCursor(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ClampLimit limit<=0 用默认值，超过 max 截断
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// Window 对取到的 limit+1 条数据做截断
func Window[T any](items []T, limit int, id func(T) uint) Page[T] {
	if items == nil {
		items = []T{}
	}
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	items = items[:limit]
	page := Page[T]{Items: items, HasMore: true}
	if limit > 0 {
		page.NextCursor = FormatCursor(id(items[limit-1]))
	}
	return page
}

// Key 排序键中的一列，全部按降序
type Key struct {
	Column string
	Value  any
}

// After 追加 "严格排在游标之后" 的条件。
// keys 为 (k1 DESC, k2 DESC, ..., id DESC)，最后一列必须是唯一的 id，
// 生成 (k1 < ?) OR (k1 = ? AND k2 < ?) OR ...
func After(tx *gorm.DB, keys ...Key) *gorm.DB {
	if len(keys) == 0 {
		return tx
	}

	var clauses []string
	var args []any
	for i, k := range keys {
		var parts []string
		for _, prev := range keys[:i] {
			parts = append(parts, prev.Column+" = ?")
			args = append(args, prev.Value)
		}
		parts = append(parts, k.Column+" < ?")
		args = append(args, k.Value)
		clauses = append(clauses, "("+strings.Join(parts, " AND ")+")")
	}
	return tx.Where("("+strings.Join(clauses, " OR ")+")", args...)
}

// OrderDesc 生成与 After 匹配的 ORDER BY
func OrderDesc(tx *gorm.DB, columns ...string) *gorm.DB {
	for _, col := range columns {
		tx = tx.Order(col + " DESC")
	}
	return tx
}
