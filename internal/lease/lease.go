// Package lease 提供基于数据库的租约：同一资源同一时刻至多一个有效持有者。
// 持有者需要在过期前续约，过期后其他人可以直接接管。
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrHeld 资源被其他人持有，具体信息见 *HeldError
	ErrHeld = errors.New("lease held by another holder")
	// ErrLost 续约时发现租约已过期或已被接管
	ErrLost = errors.New("lease lost")
)

var leaseOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "townsquare_lease_operations_total",
	Help: "Lease operations by kind and outcome.",
}, []string{"op", "outcome"})

// HeldError 包含当前持有者，便于提示 "正在被 X 编辑"
type HeldError struct {
	Holder    string
	ExpiresAt time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lease held by %s until %s", e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

type Lease struct {
	Resource   string    `gorm:"primaryKey;size:191" json:"resource"`
	Holder     string    `gorm:"size:191;not null" json:"holder"`
	AcquiredAt time.Time `gorm:"not null" json:"acquiredAt"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expiresAt"`
}

type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock 测试用
func (m *Manager) WithClock(now func() time.Time) *Manager {
	return &Manager{db: m.db, now: now}
}

// Acquire 获取租约；无人持有、已过期或本人持有时成功（本人持有即续约）
func (m *Manager) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (Lease, error) {
	now := m.now()
	l := Lease{Resource: resource, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	tx := m.db.WithContext(ctx)

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&l)
	if res.Error != nil {
		leaseOps.WithLabelValues("acquire", "error").Inc()
		return Lease{}, fmt.Errorf("acquire lease %s: %w", resource, res.Error)
	}
	if res.RowsAffected == 1 {
		leaseOps.WithLabelValues("acquire", "ok").Inc()
		return l, nil
	}

	// 已有记录：本人持有则续约，已过期则接管
	var current Lease
	if err := tx.Where("resource = ?", resource).First(&current).Error; err != nil {
		leaseOps.WithLabelValues("acquire", "error").Inc()
		return Lease{}, fmt.Errorf("load lease %s: %w", resource, err)
	}
	acquiredAt := now
	if current.Holder == holder && current.ExpiresAt.After(now) {
		acquiredAt = current.AcquiredAt
	}

	res = tx.Model(&Lease{}).
		Where("resource = ? AND (holder = ? OR expires_at <= ?)", resource, holder, now).
		Updates(map[string]any{"holder": holder, "acquired_at": acquiredAt, "expires_at": l.ExpiresAt})
	if res.Error != nil {
		leaseOps.WithLabelValues("acquire", "error").Inc()
		return Lease{}, fmt.Errorf("take over lease %s: %w", resource, res.Error)
	}
	if res.RowsAffected == 0 {
		leaseOps.WithLabelValues("acquire", "held").Inc()
		if err := tx.Where("resource = ?", resource).First(&current).Error; err != nil {
			return Lease{}, fmt.Errorf("load lease %s: %w", resource, err)
		}
		return Lease{}, &HeldError{Holder: current.Holder, ExpiresAt: current.ExpiresAt}
	}

	leaseOps.WithLabelValues("acquire", "ok").Inc()
	l.AcquiredAt = acquiredAt
	return l, nil
}

// Renew 只有未过期的持有者可以续约
func (m *Manager) Renew(ctx context.Context, resource, holder string, ttl time.Duration) (Lease, error) {
	now := m.now()
	expires := now.Add(ttl)
	res := m.db.WithContext(ctx).Model(&Lease{}).
		Where("resource = ? AND holder = ? AND expires_at > ?", resource, holder, now).
		Update("expires_at", expires)
	if res.Error != nil {
		leaseOps.WithLabelValues("renew", "error").Inc()
		return Lease{}, fmt.Errorf("renew lease %s: %w", resource, res.Error)
	}
	if res.RowsAffected == 0 {
		leaseOps.WithLabelValues("renew", "lost").Inc()
		return Lease{}, ErrLost
	}
	leaseOps.WithLabelValues("renew", "ok").Inc()

	var l Lease
	if err := m.db.WithContext(ctx).Where("resource = ?", resource).First(&l).Error; err != nil {
		return Lease{}, fmt.Errorf("load lease %s: %w", resource, err)
	}
	return l, nil
}

// Release 只删除自己的租约，重复调用无副作用
func (m *Manager) Release(ctx context.Context, resource, holder string) error {
	err := m.db.WithContext(ctx).
		Where("resource = ? AND holder = ?", resource, holder).
		Delete(&Lease{}).Error
	if err != nil {
		return fmt.Errorf("release lease %s: %w", resource, err)
	}
	leaseOps.WithLabelValues("release", "ok").Inc()
	return nil
}

// Current 返回未过期的租约
func (m *Manager) Current(ctx context.Context, resource string) (Lease, bool, error) {
	var l Lease
	err := m.db.WithContext(ctx).
		Where("resource = ? AND expires_at > ?", resource, m.now()).
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, fmt.Errorf("load lease %s: %w", resource, err)
	}
	return l, true, nil
}

// Holds 判断 holder 是否持有未过期的租约
func (m *Manager) Holds(ctx context.Context, resource, holder string) (bool, error) {
	l, ok, err := m.Current(ctx, resource)
	if err != nil || !ok {
		return false, err
	}
	return l.Holder == holder, nil
}

// Sweep 清理过期记录
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).Where("expires_at <= ?", m.now()).Delete(&Lease{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep leases: %w", res.Error)
	}
	return res.RowsAffected, nil
}
