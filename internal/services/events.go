package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"townsquare/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const reminderWindow = 24 * time.Hour

type EventService struct {
	*core
}

type SessionInput struct {
	Title    string    `json:"title" validate:"max=200"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Capacity int       `json:"capacity" validate:"min=0,max=100000"`
}

type CreateEventInput struct {
	CommunityID uint           `json:"communityId" validate:"required"`
	Title       string         `json:"title" validate:"required,min=3,max=200"`
	Description string         `json:"description" validate:"max=10000"`
	Location    string         `json:"location" validate:"max=200"`
	Sessions    []SessionInput `json:"sessions" validate:"required,min=1,max=20,dive"`
}

type UpdateEventInput struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=10000"`
	Location    string `json:"location" validate:"max=200"`
}

type EventView struct {
	models.Event
	OrganizerName  string `json:"organizerName"`
	CoOrganizerIDs []uint `json:"coOrganizerIds"`
	CommunitySlug  string `json:"communitySlug"`
}

func checkSession(in SessionInput) error {
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() {
		return Validation("Every session needs a start and end time")
	}
	if !in.EndsAt.After(in.StartsAt) {
		return Validation("A session must end after it starts")
	}
	return nil
}

func newSession(eventID uint, in SessionInput) models.EventSession {
	return models.EventSession{
		EventID:  eventID,
		Title:    strings.TrimSpace(in.Title),
		StartsAt: in.StartsAt.UTC(),
		EndsAt:   in.EndsAt.UTC(),
		Capacity: in.Capacity,
	}
}

// CreateEvent 活动、聊天频道和场次在同一事务中创建
func (s *EventService) CreateEvent(ctx context.Context, userID uint, in CreateEventInput) (*EventView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := check(in); err != nil {
		return nil, err
	}
	for _, sess := range in.Sessions {
		if err := checkSession(sess); err != nil {
			return nil, err
		}
	}
	if _, err := loadCommunity(s.db.WithContext(ctx), in.CommunityID); err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, in.CommunityID, RoleMember, "Only members can create events"); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ActionCreateEvent, userID); err != nil {
		return nil, err
	}

	var event models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		channel := models.Channel{CommunityID: in.CommunityID, Name: channelName(in.Title)}
		if err := tx.Create(&channel).Error; err != nil {
			return err
		}
		event = models.Event{
			CommunityID: in.CommunityID,
			OrganizerID: userID,
			ChannelID:   &channel.ID,
			Title:       in.Title,
			Description: in.Description,
			Location:    strings.TrimSpace(in.Location),
		}
		if err := tx.Omit("Sessions").Create(&event).Error; err != nil {
			return err
		}
		sessions := make([]models.EventSession, 0, len(in.Sessions))
		for _, sess := range in.Sessions {
			sessions = append(sessions, newSession(event.ID, sess))
		}
		if err := tx.Create(&sessions).Error; err != nil {
			return err
		}
		return tx.Model(&models.Channel{}).Where("id = ?", channel.ID).Update("event_id", event.ID).Error
	})
	if err != nil {
		return nil, Internal("create event", err)
	}
	slog.Info("Event created", "event_id", event.ID, "community_id", in.CommunityID, "sessions", len(in.Sessions))
	return s.GetEvent(ctx, userID, event.ID)
}

func channelName(title string) string {
	r := []rune(title)
	if len(r) > 100 {
		r = r[:100]
	}
	return string(r)
}

func (s *EventService) loadEvent(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).Preload("Community").Preload("Organizer").
		Preload("Sessions", func(db *gorm.DB) *gorm.DB { return db.Order("starts_at ASC").Order("id ASC") }).
		First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Event not found")
	}
	if err != nil {
		return nil, Internal("load event", err)
	}
	return &event, nil
}

func (s *EventService) GetEvent(ctx context.Context, userID, eventID uint) (*EventView, error) {
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, &event.Community); err != nil {
		return nil, err
	}
	views, err := s.toViews(ctx, []models.Event{*event})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListEvents upcoming 为 true 时只返回还有未结束场次的活动
func (s *EventService) ListEvents(ctx context.Context, userID, communityID uint, upcoming bool) ([]EventView, error) {
	community, err := loadCommunity(s.db.WithContext(ctx), communityID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanRead(ctx, userID, community); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Preload("Organizer").
		Preload("Sessions", func(db *gorm.DB) *gorm.DB { return db.Order("starts_at ASC").Order("id ASC") }).
		Where("community_id = ?", communityID)
	if upcoming {
		q = q.Where("id IN (?)", s.db.Model(&models.EventSession{}).Select("event_id").Where("ends_at > ?", s.now()))
	}
	var events []models.Event
	if err := q.Order("created_at DESC").Order("id DESC").Limit(100).Find(&events).Error; err != nil {
		return nil, Internal("list events", err)
	}
	for i := range events {
		events[i].Community = *community
	}
	return s.toViews(ctx, events)
}

func (s *EventService) toViews(ctx context.Context, events []models.Event) ([]EventView, error) {
	var eventIDs, sessionIDs []uint
	for _, ev := range events {
		eventIDs = append(eventIDs, ev.ID)
		for _, sess := range ev.Sessions {
			sessionIDs = append(sessionIDs, sess.ID)
		}
	}

	counts, err := goingCounts(s.db.WithContext(ctx), sessionIDs)
	if err != nil {
		return nil, err
	}

	coOrganizers := make(map[uint][]uint)
	if len(eventIDs) > 0 {
		var rows []models.EventOrganizer
		if err := s.db.WithContext(ctx).Where("event_id IN ?", eventIDs).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
			return nil, Internal("load co-organizers", err)
		}
		for _, r := range rows {
			coOrganizers[r.EventID] = append(coOrganizers[r.EventID], r.UserID)
		}
	}

	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		for i := range ev.Sessions {
			ev.Sessions[i].GoingCount = counts[ev.Sessions[i].ID]
		}
		ids := coOrganizers[ev.ID]
		if ids == nil {
			ids = []uint{}
		}
		views = append(views, EventView{
			Event:          ev,
			OrganizerName:  ev.Organizer.Username,
			CoOrganizerIDs: ids,
			CommunitySlug:  ev.Community.Slug,
		})
	}
	return views, nil
}

func goingCounts(tx *gorm.DB, sessionIDs []uint) (map[uint]int, error) {
	out := make(map[uint]int, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		SessionID uint
		Total     int
	}
	err := tx.Model(&models.RSVP{}).Select("session_id, COUNT(*) AS total").
		Where("session_id IN ? AND status = ?", sessionIDs, models.RSVPGoing).
		Group("session_id").Scan(&rows).Error
	if err != nil {
		return nil, Internal("count rsvps", err)
	}
	for _, r := range rows {
		out[r.SessionID] = r.Total
	}
	return out, nil
}

// canEdit 组织者、联合组织者或版主以上
func (s *EventService) canEdit(ctx context.Context, userID uint, event *models.Event) error {
	if userID == 0 {
		return Unauthorized("Please sign in first")
	}
	if event.OrganizerID == userID {
		return nil
	}
	role, err := s.access.Resolve(ctx, userID, event.CommunityID)
	if err != nil {
		return err
	}
	if role >= RoleModerator {
		return nil
	}
	if role >= RoleMember {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.EventOrganizer{}).
			Where("event_id = ? AND user_id = ?", event.ID, userID).Count(&count).Error; err != nil {
			return Internal("check co-organizer", err)
		}
		if count > 0 {
			return nil
		}
	}
	return Forbidden("Only event organizers can edit this event")
}

func (s *EventService) UpdateEvent(ctx context.Context, userID, eventID uint, in UpdateEventInput) (*EventView, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := check(in); err != nil {
		return nil, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, userID, event); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", eventID).Updates(map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"location":    strings.TrimSpace(in.Location),
		"updated_at":  s.now(),
	}).Error
	if err != nil {
		return nil, Internal("update event", err)
	}
	return s.GetEvent(ctx, userID, eventID)
}

func (s *EventService) AddSession(ctx context.Context, userID, eventID uint, in SessionInput) (*models.EventSession, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	if err := checkSession(in); err != nil {
		return nil, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, userID, event); err != nil {
		return nil, err
	}

	sess := newSession(eventID, in)
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return nil, Internal("add session", err)
	}
	return &sess, nil
}

// DeleteSession 活动至少保留一个场次
func (s *EventService) DeleteSession(ctx context.Context, userID, sessionID uint) error {
	var sess models.EventSession
	if err := s.db.WithContext(ctx).First(&sess, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFound("Session not found")
		}
		return Internal("load session", err)
	}
	event, err := s.loadEvent(ctx, sess.EventID)
	if err != nil {
		return err
	}
	if err := s.canEdit(ctx, userID, event); err != nil {
		return err
	}
	if len(event.Sessions) <= 1 {
		return Validation("An event needs at least one session")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.RSVP{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.EventSession{}, sessionID).Error
	})
	if err != nil {
		return Internal("delete session", err)
	}
	return nil
}

// AddCoOrganizer 联合组织者必须是社区成员
func (s *EventService) AddCoOrganizer(ctx context.Context, actorID, eventID, userID uint) error {
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := s.canEdit(ctx, actorID, event); err != nil {
		return err
	}
	if userID == event.OrganizerID {
		return Validation("This user already organizes the event")
	}
	role, err := s.access.Resolve(ctx, userID, event.CommunityID)
	if err != nil {
		return err
	}
	if role < RoleMember {
		return Validation("Co-organizers must be community members")
	}

	row := models.EventOrganizer{EventID: eventID, UserID: userID, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return Internal("add co-organizer", err)
	}
	return nil
}

func (s *EventService) RemoveCoOrganizer(ctx context.Context, actorID, eventID, userID uint) error {
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := s.canEdit(ctx, actorID, event); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Where("event_id = ? AND user_id = ?", eventID, userID).Delete(&models.EventOrganizer{}).Error
	if err != nil {
		return Internal("remove co-organizer", err)
	}
	return nil
}

func validRSVP(status string) bool {
	switch status {
	case models.RSVPGoing, models.RSVPMaybe, models.RSVPNotGoing:
		return true
	}
	return false
}

// RSVP 每个用户在每个场次只有一条记录；going 受名额限制
func (s *EventService) RSVP(ctx context.Context, userID, sessionID uint, status string) (*models.RSVP, error) {
	if !validRSVP(status) {
		return nil, Validation("Status must be going, maybe or not_going")
	}
	var sess models.EventSession
	if err := s.db.WithContext(ctx).First(&sess, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Session not found")
		}
		return nil, Internal("load session", err)
	}
	event, err := s.loadEvent(ctx, sess.EventID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, event.CommunityID, RoleMember, "Only members can RSVP"); err != nil {
		return nil, err
	}
	if !sess.EndsAt.After(s.now()) {
		return nil, Validation("This session has already ended")
	}

	var rsvp models.RSVP
	var changed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先写一次场次行，同一场次的 RSVP 因此串行执行
		if err := tx.Model(&models.EventSession{}).Where("id = ?", sessionID).
			UpdateColumn("capacity", gorm.Expr("capacity")).Error; err != nil {
			return err
		}

		err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&rsvp).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if exists && rsvp.Status == status {
			return nil
		}

		if status == models.RSVPGoing && sess.Capacity > 0 {
			var going int64
			if err := tx.Model(&models.RSVP{}).Where("session_id = ? AND status = ?", sessionID, models.RSVPGoing).
				Count(&going).Error; err != nil {
				return err
			}
			if going >= int64(sess.Capacity) {
				return Conflict("This session is full")
			}
		}

		changed = true
		if exists {
			rsvp.Status = status
			return tx.Model(&models.RSVP{}).Where("id = ?", rsvp.ID).
				Updates(map[string]any{"status": status, "updated_at": s.now()}).Error
		}
		rsvp = models.RSVP{SessionID: sessionID, UserID: userID, Status: status}
		return tx.Create(&rsvp).Error
	})
	if err != nil {
		return nil, wrapInternal("rsvp", err)
	}

	if changed {
		s.afterRSVP(ctx, userID, event, &sess, status)
	}
	return &rsvp, nil
}

func (s *EventService) afterRSVP(ctx context.Context, userID uint, event *models.Event, sess *models.EventSession, status string) {
	link := s.link(fmt.Sprintf("/events/%d", event.ID))
	if status == models.RSVPGoing {
		var user models.User
		if err := s.db.WithContext(ctx).Select("id", "email").First(&user, userID).Error; err == nil {
			s.mail.SendRSVPConfirmation(user.Email, event.Title, sessionTitle(sess), sess.StartsAt.Format(time.RFC1123), event.Location, link)
		}
	}
	s.notifications.Notify(ctx, event.OrganizerID, userID, models.NotificationTypeEventRSVP,
		fmt.Sprintf(`responded %s to <a href="/events/%d">%s</a>`, strings.ReplaceAll(status, "_", " "), event.ID, template.HTMLEscapeString(event.Title)))
}

func sessionTitle(sess *models.EventSession) string {
	if sess.Title != "" {
		return sess.Title
	}
	return sess.StartsAt.Format("Mon Jan 2 15:04 MST")
}

// SendDueReminders 给 24 小时内开始的场次发送提醒，每条 RSVP 只发一次
func (s *EventService) SendDueReminders(ctx context.Context) (int, error) {
	now := s.now()
	var due []models.RSVP
	err := s.db.WithContext(ctx).Preload("User").Preload("Session").
		Joins("JOIN event_sessions ON event_sessions.id = rsvps.session_id").
		Where("rsvps.status = ? AND rsvps.reminder_sent_at IS NULL", models.RSVPGoing).
		Where("event_sessions.starts_at > ? AND event_sessions.starts_at <= ?", now, now.Add(reminderWindow)).
		Find(&due).Error
	if err != nil {
		return 0, Internal("load due reminders", err)
	}

	events := make(map[uint]*models.Event)
	sent := 0
	for _, r := range due {
		ev, ok := events[r.Session.EventID]
		if !ok {
			var loaded models.Event
			if err := s.db.WithContext(ctx).First(&loaded, r.Session.EventID).Error; err != nil {
				slog.Error("Failed to load event for reminder", "event_id", r.Session.EventID, "error", err)
				continue
			}
			ev = &loaded
			events[ev.ID] = ev
		}

		res := s.db.WithContext(ctx).Model(&models.RSVP{}).
			Where("id = ? AND reminder_sent_at IS NULL", r.ID).
			Update("reminder_sent_at", now)
		if res.Error != nil {
			return sent, Internal("stamp reminder", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		s.mail.SendEventReminder(r.User.Email, ev.Title, sessionTitle(&r.Session), r.Session.StartsAt.Format(time.RFC1123),
			ev.Location, s.link(fmt.Sprintf("/events/%d", ev.ID)))
		sent++
	}
	if sent > 0 {
		slog.Info("Event reminders sent", "count", sent)
	}
	return sent, nil
}
