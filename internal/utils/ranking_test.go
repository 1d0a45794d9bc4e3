package utils

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHotScoreDecay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.InDelta(t, 10.0, HotScore(10, now, now), 1e-9)
	assert.InDelta(t, 9.0, HotScore(10, now.Add(-2*time.Hour), now), 1e-9)
	assert.InDelta(t, -12.0, HotScore(0, now.Add(-24*time.Hour), now), 1e-9)
	// 未来时间不加分
	assert.InDelta(t, 3.0, HotScore(3, now.Add(time.Hour), now), 1e-9)
}

func TestHotRankMatchesHotScoreOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	type item struct {
		votes   int
		created time.Time
	}
	items := []item{
		{10, base.Add(-48 * time.Hour)},
		{0, base},
		{3, base.Add(-5 * time.Hour)},
		{-2, base.Add(-1 * time.Hour)},
		{25, base.Add(-72 * time.Hour)},
		{1, base.Add(-90 * time.Minute)},
	}

	for _, now := range []time.Time{base, base.Add(6 * time.Hour), base.Add(240 * time.Hour)} {
		byScore := make([]item, len(items))
		copy(byScore, items)
		sort.SliceStable(byScore, func(i, j int) bool {
			return HotScore(byScore[i].votes, byScore[i].created, now) > HotScore(byScore[j].votes, byScore[j].created, now)
		})

		byRank := make([]item, len(items))
		copy(byRank, items)
		sort.SliceStable(byRank, func(i, j int) bool {
			return HotRank(byRank[i].votes, byRank[i].created) > HotRank(byRank[j].votes, byRank[j].created)
		})

		assert.Equal(t, byScore, byRank, "now=%s", now)
	}
}

func TestHotRankDelta(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, HotRank(4, created), HotRank(1, created)+HotRankDelta(3))
	assert.Equal(t, HotRank(-1, created), HotRank(1, created)+HotRankDelta(-2))
}
