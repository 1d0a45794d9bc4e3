package services

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"sync"

	"townsquare/internal/config"
	"townsquare/internal/web"

	"gopkg.in/gomail.v2"
)

// Mailer 发送一封 HTML 邮件
type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// SMTPMailer 基于 gomail 的 SMTP 发送
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer SMTP 配置不全时返回 nil，调用方视为禁用
func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	if !cfg.MailEnabled() {
		slog.Warn("MailService disabled: missing SMTP configuration")
		return nil
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		from:   cfg.SMTPFrom,
	}
}

func (m *SMTPMailer) Send(to, subject, htmlBody string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	return m.dialer.DialAndSend(msg)
}

var emailTemplates = []string{"welcome", "invite", "rsvp", "reminder", "reply"}

// MailService 渲染模板并发送各类通知邮件
type MailService struct {
	mailer   Mailer
	siteURL  string
	syncSend bool
	tmpl     map[string]*template.Template
	wg       sync.WaitGroup
}

// NewMailService mailer 为 nil 时所有发送都会被跳过
func NewMailService(mailer Mailer, siteURL string, syncSend bool) *MailService {
	s := &MailService{mailer: mailer, siteURL: siteURL, syncSend: syncSend, tmpl: map[string]*template.Template{}}
	for _, name := range emailTemplates {
		t, err := template.ParseFS(web.FS, "templates/email/layout.html", "templates/email/"+name+".html")
		if err != nil {
			// 模板随二进制内嵌，解析失败属于构建问题
			panic(fmt.Errorf("parse email template %s: %w", name, err))
		}
		s.tmpl[name] = t
	}
	return s
}

func (s *MailService) Enabled() bool {
	return s != nil && s.mailer != nil
}

func (s *MailService) render(name string, data map[string]any) (string, error) {
	t, ok := s.tmpl[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %s", name)
	}
	data["SiteURL"] = s.siteURL
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render email %s: %w", name, err)
	}
	return buf.String(), nil
}

func (s *MailService) send(to, subject, name string, data map[string]any) {
	if !s.Enabled() || to == "" {
		return
	}
	body, err := s.render(name, data)
	if err != nil {
		slog.Error("Error rendering email", "template", name, "error", err)
		return
	}

	deliver := func() {
		if err := s.mailer.Send(to, subject, body); err != nil {
			slog.Error("Failed to send email", "to", to, "template", name, "error", err)
			return
		}
		slog.Info("Email sent", "to", to, "subject", subject)
	}

	if s.syncSend {
		deliver()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		deliver()
	}()
}

// Wait 等待异步邮件发送完毕，用于优雅退出
func (s *MailService) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

func (s *MailService) SendWelcome(email, username string) {
	s.send(email, "Welcome to townsquare", "welcome", map[string]any{"Username": username})
}

func (s *MailService) SendInvite(email, inviter, communityName, link, expiresAt string) {
	s.send(email, inviter+" invited you to "+communityName, "invite", map[string]any{
		"Inviter":       inviter,
		"CommunityName": communityName,
		"Link":          link,
		"ExpiresAt":     expiresAt,
	})
}

func (s *MailService) SendRSVPConfirmation(email, eventTitle, sessionTitle, startsAt, location, link string) {
	s.send(email, "You're going to "+eventTitle, "rsvp", map[string]any{
		"EventTitle":   eventTitle,
		"SessionTitle": sessionTitle,
		"StartsAt":     startsAt,
		"Location":     location,
		"Link":         link,
	})
}

func (s *MailService) SendEventReminder(email, eventTitle, sessionTitle, startsAt, location, link string) {
	s.send(email, "Reminder: "+eventTitle+" starts soon", "reminder", map[string]any{
		"EventTitle":   eventTitle,
		"SessionTitle": sessionTitle,
		"StartsAt":     startsAt,
		"Location":     location,
		"Link":         link,
	})
}

func (s *MailService) SendReplyNotification(email, actor, postTitle, excerpt, link string) {
	s.send(email, actor+" replied to you on "+postTitle, "reply", map[string]any{
		"Actor":     actor,
		"PostTitle": postTitle,
		"Excerpt":   excerpt,
		"Link":      link,
	})
}
