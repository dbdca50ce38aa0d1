package imapmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

// DialConfig describes one IMAP login. Exactly one of Password and AccessToken is used;
// AccessToken selects XOAUTH2.
type DialConfig struct {
	Addr        string
	Username    string
	Password    string
	AccessToken string
	From        string
	Folders     Folders

	// Insecure dials without TLS (local test servers only).
	Insecure bool
	Timeout  time.Duration
}

// Dial connects, authenticates and selects the inbox.
func Dial(ctx context.Context, cfg DialConfig) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Folders.Inbox == "" {
		cfg.Folders.Inbox = "INBOX"
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	if cfg.Insecure {
		c, err = client.DialWithDialer(dialer, cfg.Addr)
	} else {
		host, _, _ := net.SplitHostPort(cfg.Addr)
		c, err = client.DialWithDialerTLS(dialer, cfg.Addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	c.Timeout = cfg.Timeout

	switch {
	case cfg.AccessToken != "":
		err = c.Authenticate(&xoauth2Client{username: cfg.Username, token: cfg.AccessToken})
	case cfg.Password != "":
		err = c.Login(cfg.Username, cfg.Password)
	default:
		err = errors.New("no password or access token")
	}
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login %s: %w", cfg.Username, err)
	}

	s := newSession(c, cfg.Folders, cfg.From)
	if err := s.selectInbox(); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", cfg.Folders.Inbox, err)
	}
	return s, nil
}

// xoauth2Client is the Gmail/Outlook XOAUTH2 SASL mechanism.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func (x *xoauth2Client) Start() (string, []byte, error) {
	ir := "user=" + x.username + "\x01auth=Bearer " + x.token + "\x01\x01"
	return "XOAUTH2", []byte(ir), nil
}

// Next answers the server's JSON error challenge with an empty response so it can
// finish with a tagged NO.
func (x *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
