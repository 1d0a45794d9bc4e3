package models

import (
	"time"
)

type Event struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CommunityID uint      `gorm:"not null;index" json:"communityId"`
	Community   Community `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	OrganizerID uint      `gorm:"not null;index" json:"organizerId"`
	Organizer   User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	ChannelID   *uint     `gorm:"index" json:"channelId"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Location    string    `gorm:"size:200" json:"location"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Sessions []EventSession `gorm:"constraint:OnDelete:CASCADE;" json:"sessions,omitempty"`
}

// EventOrganizer 联合组织者
type EventOrganizer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   uint      `gorm:"not null;uniqueIndex:idx_event_organizer" json:"eventId"`
	Event     Event     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_event_organizer;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type EventSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   uint      `gorm:"not null;index" json:"eventId"`
	Title     string    `gorm:"size:200" json:"title"`
	StartsAt  time.Time `gorm:"not null;index" json:"startsAt"`
	EndsAt    time.Time `gorm:"not null" json:"endsAt"`
	Capacity  int       `gorm:"not null;default:0" json:"capacity"` // 0 表示不限
	CreatedAt time.Time `json:"createdAt"`

	GoingCount int `gorm:"-" json:"goingCount"`
}

const (
	RSVPGoing    = "going"
	RSVPMaybe    = "maybe"
	RSVPNotGoing = "not_going"
)

type RSVP struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	SessionID      uint         `gorm:"not null;uniqueIndex:idx_rsvp_session_user" json:"sessionId"`
	Session        EventSession `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID         uint         `gorm:"not null;uniqueIndex:idx_rsvp_session_user;index" json:"userId"`
	User           User         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Status         string       `gorm:"size:20;not null" json:"status"`
	ReminderSentAt *time.Time   `json:"reminderSentAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}
