package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingMailer struct{ calls int }

func (m *failingMailer) Send(string, string, string) error {
	m.calls++
	return errors.New("smtp down")
}

func TestMailServiceRendersTemplates(t *testing.T) {
	mailer := &fakeMailer{}
	s := NewMailService(mailer, "https://town.test", true)
	require.True(t, s.Enabled())

	s.SendReplyNotification("ann@town.test", "bob", "Spring <plans>", "sounds good", "https://town.test/c/x/p/y#comment-3")
	require.Len(t, mailer.sent, 1)
	got := mailer.sent[0]
	assert.Equal(t, "bob replied to you on Spring <plans>", got.Subject)
	assert.Contains(t, got.Body, "Spring &lt;plans&gt;")
	assert.Contains(t, got.Body, `href="https://town.test/c/x/p/y#comment-3"`)
	assert.Contains(t, got.Body, "sounds good")

	s.SendWelcome("new@town.test", "newbie")
	assert.Contains(t, mailer.to("new@town.test")[0].Body, "Welcome, newbie!")
}

func TestMailServiceDisabledAndFailures(t *testing.T) {
	disabled := NewMailService(nil, "", true)
	assert.False(t, disabled.Enabled())
	disabled.SendWelcome("a@town.test", "a")

	var nilService *MailService
	assert.False(t, nilService.Enabled())
	nilService.Wait()

	failing := &failingMailer{}
	async := NewMailService(failing, "https://town.test", false)
	async.SendWelcome("a@town.test", "a")
	async.SendWelcome("", "nobody")
	async.Wait()
	assert.Equal(t, 1, failing.calls)
}
