package utils

import (
	"time"
)

// HotDecaySeconds 每经过这么多秒，热度等价于少一票（2 小时）
const HotDecaySeconds = 7200

// HotScore 热度 = 票数 - 发布小时数/2，未来时间按 0 计
func HotScore(voteScore int, createdAt, now time.Time) float64 {
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return float64(voteScore) - hours/2
}

// HotRank 与时间无关的热度排序键。
// HotScore = (HotRank - now.Unix()) / HotDecaySeconds，
// 所以任意时刻按 HotRank 降序等价于按 HotScore 降序，可以直接落库建索引。
func HotRank(voteScore int, createdAt time.Time) int64 {
	return int64(voteScore)*HotDecaySeconds + createdAt.Unix()
}

// HotRankDelta 票数变化 delta 时 HotRank 的增量
func HotRankDelta(delta int) int64 {
	return int64(delta) * HotDecaySeconds
}
