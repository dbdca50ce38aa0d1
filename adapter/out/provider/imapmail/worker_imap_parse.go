package imapmail

import (
	"io"
	"strings"

	"github.com/emersion/go-imap"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/mailtext"
)

const (
	snippetLen  = 200
	maxBodySize = 1 << 20
)

// toFetched builds a FetchedMessage from the envelope and, when present, the raw body.
// A body that fails to parse still yields the envelope fields.
func toFetched(msg *imap.Message) *domain.FetchedMessage {
	m := &domain.FetchedMessage{UID: int64(msg.Uid), Flags: msg.Flags}

	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.Date = env.Date
		m.MessageID = env.MessageId
		m.InReplyTo = env.InReplyTo
		if len(env.From) > 0 {
			m.From = env.From[0].Address()
			m.FromName = env.From[0].PersonalName
		}
		m.To = addresses(env.To)
		m.Cc = addresses(env.Cc)
	}

	// Only one body section is requested. Servers answer BODY.PEEK[] as BODY[], so the
	// literal is taken as-is instead of looked up by section name.
	var references []string
	for _, body := range msg.Body {
		if body != nil {
			references = parseBody(body, m)
			break
		}
	}

	m.ThreadKey = threadKey(m, references)
	m.Snippet = mailtext.Truncate(strings.Join(strings.Fields(mailtext.Body(m.TextBody, m.HTMLBody)), " "), snippetLen)
	return m
}

func addresses(list []*imap.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if addr := a.Address(); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// parseBody fills the text and html bodies and returns the References chain.
func parseBody(r io.Reader, m *domain.FetchedMessage) []string {
	mr, err := mail.CreateReader(io.LimitReader(r, maxBodySize))
	if err != nil {
		return nil
	}
	defer mr.Close()

	references, _ := mr.Header.MsgIDList("References")
	if m.MessageID == "" {
		m.MessageID, _ = mr.Header.MessageID()
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case ct == "text/plain" && m.TextBody == "":
			m.TextBody = string(data)
		case ct == "text/html" && m.HTMLBody == "":
			m.HTMLBody = string(data)
		}
	}
	return references
}

// threadKey is the root of the References chain, else the parent, else the message itself.
func threadKey(m *domain.FetchedMessage, references []string) string {
	if len(references) > 0 {
		return references[0]
	}
	if m.InReplyTo != "" {
		return strings.Trim(m.InReplyTo, "<>")
	}
	return strings.Trim(m.MessageID, "<>")
}
