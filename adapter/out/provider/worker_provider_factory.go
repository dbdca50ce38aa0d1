// Package provider implements mail provider adapters and factory.
package provider

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"jenn_worker/adapter/out/provider/imapmail"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
)

// =============================================================================
// Provider Factory
// =============================================================================

// OAuthConfig holds one OAuth application's credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string // Outlook only, "common" for multi-tenant
}

// FactoryConfig holds all provider configurations.
type FactoryConfig struct {
	Gmail       OAuthConfig
	Outlook     OAuthConfig
	DialTimeout time.Duration
}

// Factory opens IMAP sessions for mailboxes. Gmail and Outlook authenticate with XOAUTH2
// using an access token minted from the stored refresh token.
type Factory struct {
	cfg     FactoryConfig
	gmail   *oauth2.Config
	outlook *oauth2.Config
}

var _ out.MailProviderFactory = (*Factory)(nil)

func NewFactory(cfg FactoryConfig) *Factory {
	tenant := cfg.Outlook.TenantID
	if tenant == "" {
		tenant = "common"
	}
	return &Factory{
		cfg: cfg,
		gmail: &oauth2.Config{
			ClientID:     cfg.Gmail.ClientID,
			ClientSecret: cfg.Gmail.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://mail.google.com/"},
		},
		outlook: &oauth2.Config{
			ClientID:     cfg.Outlook.ClientID,
			ClientSecret: cfg.Outlook.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			Scopes:       []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "offline_access"},
		},
	}
}

// defaults per provider type: host and special-use folders.
func defaults(p domain.MailProviderType) (string, imapmail.Folders) {
	switch p {
	case domain.MailProviderGmail:
		return "imap.gmail.com", imapmail.Folders{Archive: "[Gmail]/All Mail", Drafts: "[Gmail]/Drafts"}
	case domain.MailProviderOutlook:
		return "outlook.office365.com", imapmail.Folders{Archive: "Archive", Drafts: "Drafts"}
	default:
		return "", imapmail.Folders{Archive: "Archive", Drafts: "Drafts"}
	}
}

// Open implements out.MailProviderFactory.
func (f *Factory) Open(ctx context.Context, mailbox *domain.Mailbox) (out.MailProvider, error) {
	host, folders := defaults(mailbox.Provider)
	if mailbox.Host != "" {
		host = mailbox.Host
	}
	if host == "" {
		return nil, fmt.Errorf("mailbox %d has no imap host", mailbox.ID)
	}
	port := mailbox.Port
	if port == 0 {
		port = 993
	}
	folders.Inbox = mailbox.InboxFolder()

	username := mailbox.Username
	if username == "" {
		username = mailbox.Address
	}

	cfg := imapmail.DialConfig{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		Username: username,
		From:     mailbox.Address,
		Folders:  folders,
		Timeout:  f.cfg.DialTimeout,
	}

	switch {
	case mailbox.RefreshToken != "":
		token, err := f.accessToken(ctx, mailbox)
		if err != nil {
			return nil, err
		}
		cfg.AccessToken = token
	case mailbox.Password != "":
		cfg.Password = mailbox.Password
	default:
		return nil, fmt.Errorf("mailbox %d has no credentials", mailbox.ID)
	}

	return imapmail.Dial(ctx, cfg)
}

func (f *Factory) accessToken(ctx context.Context, mailbox *domain.Mailbox) (string, error) {
	var oc *oauth2.Config
	switch mailbox.Provider {
	case domain.MailProviderGmail:
		oc = f.gmail
	case domain.MailProviderOutlook:
		oc = f.outlook
	default:
		return "", fmt.Errorf("provider %q does not support oauth", mailbox.Provider)
	}

	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: mailbox.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh %s token for mailbox %d: %w", mailbox.Provider, mailbox.ID, err)
	}
	return tok.AccessToken, nil
}
