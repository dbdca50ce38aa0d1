package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"jenn_worker/core/domain"
)

func TestDefaults_PerProvider(t *testing.T) {
	host, folders := defaults(domain.MailProviderGmail)
	assert.Equal(t, "imap.gmail.com", host)
	assert.Equal(t, "[Gmail]/All Mail", folders.Archive)

	host, folders = defaults(domain.MailProviderIMAP)
	assert.Empty(t, host)
	assert.Equal(t, "Drafts", folders.Drafts)
}

func TestOpen_RejectsIncompleteMailboxes(t *testing.T) {
	f := NewFactory(FactoryConfig{})

	_, err := f.Open(context.Background(), &domain.Mailbox{ID: 1, Provider: domain.MailProviderIMAP, Password: "x"})
	assert.ErrorContains(t, err, "no imap host")

	_, err = f.Open(context.Background(), &domain.Mailbox{ID: 2, Provider: domain.MailProviderGmail})
	assert.ErrorContains(t, err, "no credentials")

	_, err = f.Open(context.Background(), &domain.Mailbox{ID: 3, Provider: domain.MailProviderIMAP, Host: "imap.example.com", RefreshToken: "r"})
	assert.ErrorContains(t, err, "does not support oauth")
}
