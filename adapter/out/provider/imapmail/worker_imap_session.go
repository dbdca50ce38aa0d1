// Package imapmail implements the mail provider port over IMAP.
package imapmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"jenn_worker/core/domain"
	"jenn_worker/pkg/logger"
)

// Folders names the special-use folders a session writes to.
type Folders struct {
	Inbox   string
	Archive string
	Drafts  string
}

// Session is an authenticated IMAP connection with the inbox selected.
// go-imap clients are not safe for concurrent commands, so every call holds mu.
type Session struct {
	mu      sync.Mutex
	c       *client.Client
	folders Folders
	from    string
}

func newSession(c *client.Client, folders Folders, from string) *Session {
	return &Session{c: c, folders: folders, from: from}
}

func (s *Session) selectInbox() error {
	if mb := s.c.Mailbox(); mb != nil && mb.Name == s.folders.Inbox && !mb.ReadOnly {
		return nil
	}
	_, err := s.c.Select(s.folders.Inbox, false)
	return err
}

// GetMessagesAfterUID searches UID lastUID+1:*. Servers answer "*" with the highest UID
// even when it is not above lastUID, so results are filtered again here.
func (s *Session) GetMessagesAfterUID(ctx context.Context, lastUID int64, limit int) ([]*domain.FetchedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectInbox(); err != nil {
		return nil, fmt.Errorf("select %s: %w", s.folders.Inbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(uint32(lastUID)+1, 0)
	found, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	uids := make([]uint32, 0, len(found))
	for _, uid := range found {
		if int64(uid) > lastUID {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	msgs, err := s.fetch(uids)
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
	return msgs, nil
}

func (s *Session) GetMessage(ctx context.Context, uid int64) (*domain.FetchedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectInbox(); err != nil {
		return nil, err
	}
	msgs, err := s.fetch([]uint32{uint32(uid)})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message uid %d not found", uid)
	}
	return msgs[0], nil
}

// GetThread searches the inbox for the thread root and every message that references it.
// IMAP HEADER search is a substring match, so the bare message ID finds bracketed headers.
func (s *Session) GetThread(ctx context.Context, threadKey string, limit int) ([]*domain.FetchedMessage, error) {
	threadKey = strings.Trim(threadKey, "<> ")
	if threadKey == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectInbox(); err != nil {
		return nil, fmt.Errorf("select %s: %w", s.folders.Inbox, err)
	}

	uids, err := s.c.UidSearch(threadCriteria(threadKey))
	if err != nil {
		return nil, fmt.Errorf("uid search thread: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	msgs, err := s.fetch(uids)
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
	return msgs, nil
}

// threadCriteria matches Message-Id OR References OR In-Reply-To containing id.
func threadCriteria(id string) *imap.SearchCriteria {
	header := func(name string) *imap.SearchCriteria {
		c := imap.NewSearchCriteria()
		c.Header.Add(name, id)
		return c
	}
	replies := imap.NewSearchCriteria()
	replies.Or = [][2]*imap.SearchCriteria{{header("References"), header("In-Reply-To")}}

	c := imap.NewSearchCriteria()
	c.Or = [][2]*imap.SearchCriteria{{header("Message-Id"), replies}}
	return c
}

func (s *Session) fetch(uids []uint32) ([]*domain.FetchedMessage, error) {
	seq := new(imap.SeqSet)
	seq.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- s.c.UidFetch(seq, items, ch) }()

	msgs := make([]*domain.FetchedMessage, 0, len(uids))
	for msg := range ch {
		msgs = append(msgs, toFetched(msg))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch: %w", err)
	}
	return msgs, nil
}

func (s *Session) MarkRead(ctx context.Context, uid int64) error {
	return s.store(ctx, uid, imap.SeenFlag)
}

func (s *Session) store(ctx context.Context, uid int64, flags ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectInbox(); err != nil {
		return err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uint32(uid))
	return s.c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil)
}

// Label copies the message into a folder named after the label. On Gmail this applies the label.
func (s *Session) Label(ctx context.Context, uid int64, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return errors.New("empty label")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectInbox(); err != nil {
		return err
	}
	s.ensureFolder(label)
	seq := new(imap.SeqSet)
	seq.AddNum(uint32(uid))
	return s.c.UidCopy(seq, label)
}

// Archive moves the message out of the inbox.
func (s *Session) Archive(ctx context.Context, uid int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectInbox(); err != nil {
		return err
	}
	s.ensureFolder(s.folders.Archive)
	seq := new(imap.SeqSet)
	seq.AddNum(uint32(uid))
	return s.c.UidMove(seq, s.folders.Archive)
}

// AppendDraft stores a composed reply in the drafts folder.
func (s *Session) AppendDraft(ctx context.Context, draft *domain.OutgoingDraft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := composeDraft(draft, s.from, time.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureFolder(s.folders.Drafts)
	return s.c.Append(s.folders.Drafts, []string{imap.DraftFlag, imap.SeenFlag}, time.Now(), raw)
}

func (s *Session) ensureFolder(name string) {
	if name == "" || strings.EqualFold(name, s.folders.Inbox) {
		return
	}
	if err := s.c.Create(name); err != nil {
		// ALREADYEXISTS 는 정상
		logger.Debug("[imap.Session] create %s: %v", name, err)
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Logout()
}

func composeDraft(d *domain.OutgoingDraft, defaultFrom string, now time.Time) (*bytes.Buffer, error) {
	from := d.From
	if from == "" {
		from = defaultFrom
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(d.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}
	to := make([]*mail.Address, 0, len(d.To))
	for _, addr := range d.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	if d.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{strings.Trim(d.InReplyTo, "<>")})
	}
	if len(d.References) > 0 {
		refs := make([]string, len(d.References))
		for i, r := range d.References {
			refs[i] = strings.Trim(r, "<>")
		}
		h.SetMsgIDList("References", refs)
	}

	buf := new(bytes.Buffer)
	w, err := mail.CreateSingleInlineWriter(buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(d.Body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}
