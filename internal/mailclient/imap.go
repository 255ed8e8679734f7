package mailclient

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"

	"github.com/boxkeep/boxkeep/internal/resilience"
)

// IMAPConfig holds configuration for the IMAP backend.
type IMAPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	// ArchiveMailbox is where Archive moves messages. Defaults to "Archive".
	ArchiveMailbox string
	// TrashMailbox is the mailbox the "in:trash" query selects. Defaults to
	// "Trash".
	TrashMailbox string

	Logger *slog.Logger
}

// IMAPClient implements Provider against a plain IMAP server. Message ids
// encode the source mailbox as "mailbox:uid" because IMAP UIDs are only
// unique within one mailbox. Connections are established per call and torn
// down afterwards, matching the short-burst access pattern of scheduled
// jobs.
type IMAPClient struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

// NewIMAPClient creates an IMAP backend.
func NewIMAPClient(cfg IMAPConfig) (*IMAPClient, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, fmt.Errorf("imap host and username must not be empty")
	}
	if cfg.Port == "" {
		cfg.Port = "993"
	}
	if cfg.ArchiveMailbox == "" {
		cfg.ArchiveMailbox = "Archive"
	}
	if cfg.TrashMailbox == "" {
		cfg.TrashMailbox = "Trash"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &IMAPClient{
		cfg:    cfg,
		logger: logger.With("component", "imap"),
	}, nil
}

// connect dials, authenticates and returns a live client. Failures classify
// as network or invalid-token errors so the resilience layer can branch.
func (c *IMAPClient) connect() (*imapclient.Client, error) {
	addr := c.cfg.Host + ":" + c.cfg.Port

	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &resilience.Error{Kind: resilience.KindNetworkError, Err: fmt.Errorf("connecting to %s: %w", addr, err)}
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &resilience.Error{Kind: resilience.KindInvalidToken, Err: fmt.Errorf("authenticating %s: %w", c.cfg.Username, err)}
	}

	return client, nil
}

// imapQuery is the small query subset the engine emits: "in:<mailbox>",
// "older_than:<N>d", remaining words become a TEXT search.
type imapQuery struct {
	mailbox string
	before  time.Time
	text    string
}

func (c *IMAPClient) parseQuery(query string) imapQuery {
	q := imapQuery{mailbox: "INBOX"}

	var words []string
	for _, tok := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(tok, "in:"):
			box := strings.TrimPrefix(tok, "in:")
			switch strings.ToLower(box) {
			case "inbox":
				q.mailbox = "INBOX"
			case "trash":
				q.mailbox = c.cfg.TrashMailbox
			default:
				q.mailbox = box
			}
		case strings.HasPrefix(tok, "older_than:"):
			spec := strings.TrimSuffix(strings.TrimPrefix(tok, "older_than:"), "d")
			if days, err := strconv.Atoi(spec); err == nil {
				q.before = time.Now().AddDate(0, 0, -days)
			}
		default:
			words = append(words, tok)
		}
	}
	q.text = strings.Join(words, " ")
	return q
}

func (c *IMAPClient) ListMessages(_ context.Context, query string, maxResults int) ([]Message, error) {
	q := c.parseQuery(query)

	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(q.mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", q.mailbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if !q.before.IsZero() {
		criteria.Before = q.before
	}
	if q.text != "" {
		criteria.Text = []string{q.text}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", q.mailbox, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if maxResults > 0 && len(uids) > maxResults {
		// Most recent UIDs are assigned last.
		uids = uids[len(uids)-maxResults:]
	}

	return c.fetch(client, q.mailbox, uids)
}

var unsubscribeSection = &imap.FetchItemBodySection{
	Specifier:    imap.PartSpecifierHeader,
	HeaderFields: []string{"List-Unsubscribe"},
	Peek:         true,
}

func (c *IMAPClient) fetch(client *imapclient.Client, mailbox string, uids []imap.UID) ([]Message, error) {
	fetchOpts := &imap.FetchOptions{
		Envelope:      true,
		Flags:         true,
		UID:           true,
		RFC822Size:    true,
		BodyStructure: &imap.FetchItemBodyStructure{},
		BodySection:   []*imap.FetchItemBodySection{unsubscribeSection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		messages = append(messages, c.messageFromBuffer(mailbox, buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}
	return messages, nil
}

func (c *IMAPClient) messageFromBuffer(mailbox string, buf *imapclient.FetchMessageBuffer) Message {
	m := Message{
		ID:           fmt.Sprintf("%s:%d", mailbox, uint32(buf.UID)),
		SizeEstimate: buf.RFC822Size,
		Unread:       true,
	}

	if buf.Envelope != nil {
		m.Subject = buf.Envelope.Subject
		m.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			m.From = buf.Envelope.From[0].Addr()
		}
		if len(buf.Envelope.To) > 0 {
			m.To = buf.Envelope.To[0].Addr()
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			m.Unread = false
		case imap.FlagFlagged:
			m.Starred = true
		default:
			// Non-system keywords double as labels.
			if !strings.HasPrefix(string(flag), "\\") {
				m.Labels = append(m.Labels, string(flag))
			}
		}
	}

	if buf.BodyStructure != nil {
		buf.BodyStructure.Walk(func(_ []int, part imap.BodyStructure) bool {
			if disp := part.Disposition(); disp != nil && strings.EqualFold(disp.Value, "attachment") {
				m.HasAttachment = true
				return false
			}
			return true
		})
	}

	if raw := buf.FindBodySection(unsubscribeSection); len(raw) > 0 {
		if entity, err := message.Read(bytes.NewReader(raw)); err == nil {
			m.Unsubscribe = entity.Header.Get("List-Unsubscribe")
		}
	}

	return m
}

// uidsByMailbox decodes "mailbox:uid" ids and groups them. Ids that do not
// decode are reported as per-item failures rather than failing the batch.
func uidsByMailbox(ids []string) (map[string][]imap.UID, []ItemError) {
	groups := make(map[string][]imap.UID)
	var itemErrs []ItemError

	for _, id := range ids {
		idx := strings.LastIndex(id, ":")
		if idx <= 0 {
			itemErrs = append(itemErrs, ItemError{ID: id, Reason: "malformed id"})
			continue
		}
		uid, err := strconv.ParseUint(id[idx+1:], 10, 32)
		if err != nil {
			itemErrs = append(itemErrs, ItemError{ID: id, Reason: "malformed uid"})
			continue
		}
		mailbox := id[:idx]
		groups[mailbox] = append(groups[mailbox], imap.UID(uid))
	}
	return groups, itemErrs
}

// mutate applies op per mailbox group. One group's failure marks its ids
// failed and the remaining groups still run: partial-failure semantics.
func (c *IMAPClient) mutate(ids []string, op func(client *imapclient.Client, mailbox string, uids []imap.UID) error) (ActionResult, error) {
	groups, itemErrs := uidsByMailbox(ids)
	result := ActionResult{Errors: itemErrs}
	if len(groups) == 0 {
		result.Success = len(itemErrs) == 0
		return result, nil
	}

	client, err := c.connect()
	if err != nil {
		return ActionResult{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	for mailbox, uids := range groups {
		if _, err := client.Select(mailbox, nil).Wait(); err != nil {
			for _, uid := range uids {
				result.Errors = append(result.Errors, ItemError{
					ID:     fmt.Sprintf("%s:%d", mailbox, uint32(uid)),
					Reason: fmt.Sprintf("selecting mailbox: %v", err),
				})
			}
			continue
		}

		if err := op(client, mailbox, uids); err != nil {
			for _, uid := range uids {
				result.Errors = append(result.Errors, ItemError{
					ID:     fmt.Sprintf("%s:%d", mailbox, uint32(uid)),
					Reason: err.Error(),
				})
			}
			continue
		}
		result.ProcessedCount += len(uids)
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

func (c *IMAPClient) storeFlags(ids []string, op imap.StoreFlagsOp, flags ...imap.Flag) (ActionResult, error) {
	return c.mutate(ids, func(client *imapclient.Client, _ string, uids []imap.UID) error {
		return client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  flags,
		}, nil).Close()
	})
}

func (c *IMAPClient) Archive(_ context.Context, ids []string) (ActionResult, error) {
	return c.mutate(ids, func(client *imapclient.Client, _ string, uids []imap.UID) error {
		_, err := client.Move(imap.UIDSetNum(uids...), c.cfg.ArchiveMailbox).Wait()
		return err
	})
}

func (c *IMAPClient) Delete(_ context.Context, ids []string) (ActionResult, error) {
	return c.mutate(ids, func(client *imapclient.Client, _ string, uids []imap.UID) error {
		err := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil).Close()
		if err != nil {
			return err
		}
		return client.Expunge().Close()
	})
}

func (c *IMAPClient) AddLabels(_ context.Context, ids []string, labelIDs []string) (ActionResult, error) {
	flags := make([]imap.Flag, len(labelIDs))
	for i, l := range labelIDs {
		flags[i] = imap.Flag(l)
	}
	return c.storeFlags(ids, imap.StoreFlagsAdd, flags...)
}

func (c *IMAPClient) MarkRead(_ context.Context, ids []string) (ActionResult, error) {
	return c.storeFlags(ids, imap.StoreFlagsAdd, imap.FlagSeen)
}

func (c *IMAPClient) MarkUnread(_ context.Context, ids []string) (ActionResult, error) {
	return c.storeFlags(ids, imap.StoreFlagsDel, imap.FlagSeen)
}

func (c *IMAPClient) Star(_ context.Context, ids []string) (ActionResult, error) {
	return c.storeFlags(ids, imap.StoreFlagsAdd, imap.FlagFlagged)
}

func (c *IMAPClient) Unstar(_ context.Context, ids []string) (ActionResult, error) {
	return c.storeFlags(ids, imap.StoreFlagsDel, imap.FlagFlagged)
}

func (c *IMAPClient) Counts(_ context.Context) (Counts, error) {
	client, err := c.connect()
	if err != nil {
		return Counts{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	status, err := client.Status("INBOX", &imap.StatusOptions{
		NumMessages: true,
		NumUnseen:   true,
		Size:        true,
	}).Wait()
	if err != nil {
		return Counts{}, fmt.Errorf("inbox status: %w", err)
	}

	counts := Counts{}
	if status.NumMessages != nil {
		counts.Total = int(*status.NumMessages)
	}
	if status.NumUnseen != nil {
		counts.Unread = int(*status.NumUnseen)
	}
	if status.Size != nil {
		counts.TotalSize = *status.Size
	}

	// Starred needs a search; STATUS has no flagged count.
	if _, err := client.Select("INBOX", nil).Wait(); err == nil {
		criteria := &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagFlagged}}
		if data, err := client.UIDSearch(criteria, nil).Wait(); err == nil {
			counts.Starred = len(data.AllUIDs())
		}
	}

	return counts, nil
}

func (c *IMAPClient) Labels(_ context.Context) ([]Label, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	boxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	labels := make([]Label, 0, len(boxes))
	for _, box := range boxes {
		labels = append(labels, Label{ID: box.Mailbox, Name: box.Mailbox})
	}
	return labels, nil
}

// Close is a no-op: connections are per call.
func (c *IMAPClient) Close() {}
