package pagination

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type item struct {
	ID    uint
	Score int
}

func TestParseCursor(t *testing.T) {
	id, ok := ParseCursor("42")
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"", "  ", "abc", "-1", "0", "1.5"} {
		_, ok := ParseCursor(bad)
		assert.False(t, ok, bad)
	}
	assert.Equal(t, "42", FormatCursor(42))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, ClampLimit(0, 20, 50))
	assert.Equal(t, 20, ClampLimit(-3, 20, 50))
	assert.Equal(t, 50, ClampLimit(500, 20, 50))
	assert.Equal(t, 7, ClampLimit(7, 20, 50))
}

func TestWindow(t *testing.T) {
	id := func(r item) uint { return r.ID }

	page := Window([]item{{ID: 3}, {ID: 2}, {ID: 1}}, 2, id)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.NextCursor)
	assert.Len(t, page.Items, 2)

	page = Window([]item{{ID: 3}, {ID: 2}}, 2, id)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
	assert.Len(t, page.Items, 2)

	page = Window[item](nil, 5, id)
	assert.NotNil(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestAfterWalksEveryRowOnce(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&item{}))

	// 大量重复分数，验证 id 兜底
	for i := 1; i <= 23; i++ {
		require.NoError(t, conn.Create(&item{ID: uint(i), Score: i % 4}).Error)
	}

	seen := map[uint]bool{}
	var order []uint
	var cursor *item
	for pages := 0; pages < 20; pages++ {
		q := conn.Model(&item{})
		if cursor != nil {
			q = After(q, Key{"score", cursor.Score}, Key{"id", cursor.ID})
		}
		var items []item
		require.NoError(t, OrderDesc(q, "score", "id").Limit(6).Find(&items).Error)

		page := Window(items, 5, func(r item) uint { return r.ID })
		for _, r := range page.Items {
			assert.False(t, seen[r.ID], "duplicate %d", r.ID)
			seen[r.ID] = true
			order = append(order, r.ID)
		}
		if !page.HasMore {
			break
		}
		last := page.Items[len(page.Items)-1]
		cursor = &last
	}

	assert.Len(t, seen, 23)
	assert.Equal(t, uint(23), order[0]) // score 3, 最大 id
}
