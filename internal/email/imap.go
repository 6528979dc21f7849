package email

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

const defaultFolder = "INBOX"

// IMAPFetcher implements Fetcher over IMAPv4rev1 with pooled sessions.
type IMAPFetcher struct {
	pool   *ConnectionPool
	config FetcherConfig
	logger *slog.Logger
}

// FetcherConfig carries the fetch-path timeouts.
type FetcherConfig struct {
	FetchTimeout   time.Duration
	ConnectTimeout time.Duration
}

// NewIMAPFetcher creates a fetcher backed by the given pool.
func NewIMAPFetcher(pool *ConnectionPool, config FetcherConfig, logger *slog.Logger) *IMAPFetcher {
	if config.FetchTimeout == 0 {
		config.FetchTimeout = 120 * time.Second
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	return &IMAPFetcher{
		pool:   pool,
		config: config,
		logger: logger.With("component", "imap_fetcher"),
	}
}

// TestConnection dials and authenticates without touching any mailbox.
func (f *IMAPFetcher) TestConnection(ctx context.Context, account Account) ConnectionTestResult {
	ctx, cancel := context.WithTimeout(ctx, f.config.ConnectTimeout)
	defer cancel()

	c, err := dial(ctx, account, f.config.ConnectTimeout)
	if err != nil {
		return ConnectionTestResult{OK: false, Message: err.Error()}
	}
	defer c.Logout()

	if err := authenticate(c, account); err != nil {
		return ConnectionTestResult{OK: false, Message: err.Error()}
	}
	return ConnectionTestResult{OK: true, Message: fmt.Sprintf("connected to %s as %s", account.IMAPHost, account.Username)}
}

// EnsureHealthy delegates to the pool's freshness check.
func (f *IMAPFetcher) EnsureHealthy(ctx context.Context, account Account) error {
	return f.pool.EnsureHealthy(ctx, account)
}

// Close releases the pooled session for one account.
func (f *IMAPFetcher) Close(accountID int) {
	f.pool.Release(accountID)
}

// CloseAll releases every pooled session.
func (f *IMAPFetcher) CloseAll() {
	f.pool.CloseAll()
}

// FetchEmails lists UIDs in the date window and fetches envelope, flags, and
// body for each. Messages that fail to parse are skipped with a warning;
// an IMAP error after some messages were already fetched yields the partial
// slice instead of the error.
func (f *IMAPFetcher) FetchEmails(ctx context.Context, account Account, opts FetchOptions) ([]CanonicalMessage, error) {
	if opts.Folder == "" {
		opts.Folder = defaultFolder
	}

	session, release, err := f.pool.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}
	defer release()

	c := session.client

	// Read-only select: the fetcher never mutates the remote mailbox.
	if _, err := c.Select(opts.Folder, true); err != nil {
		session.markBroken()
		return nil, fmt.Errorf("%w: select %s: %v", ErrConnection, opts.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	if opts.Since != nil {
		criteria.Since = *opts.Since
	}
	if opts.Before != nil {
		criteria.Before = *opts.Before
	}

	c.Timeout = f.config.FetchTimeout
	defer func() { c.Timeout = 0 }()

	uids, err := c.UidSearch(criteria)
	if err != nil {
		session.markBroken()
		return nil, fmt.Errorf("%w: uid search: %v", ErrConnection, err)
	}
	session.touch()

	if len(uids) == 0 {
		return nil, nil
	}

	// Oldest first, capped by the caller's limit.
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if opts.Limit > 0 && len(uids) > opts.Limit {
		f.logger.Info("Capping fetch to limit",
			"account_id", account.ID, "matched", len(uids), "limit", opts.Limit)
		uids = uids[:opts.Limit]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// Peek keeps the fetch from setting \Seen on the remote messages.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var fetched []CanonicalMessage
	for msg := range messages {
		if msg == nil {
			continue
		}
		canonical, err := canonicalize(msg, section)
		if err != nil {
			f.logger.Warn("Skipping unparseable message",
				"account_id", account.ID, "uid", msg.Uid, "error", err)
			continue
		}
		fetched = append(fetched, *canonical)
	}

	if err := <-done; err != nil {
		session.markBroken()
		if len(fetched) > 0 {
			// Partial fetch: hand back what arrived, the error stays local.
			f.logger.Warn("Fetch ended early, returning partial results",
				"account_id", account.ID, "fetched", len(fetched), "error", err)
			return fetched, nil
		}
		return nil, fmt.Errorf("%w: uid fetch: %v", ErrConnection, err)
	}
	session.touch()

	return fetched, nil
}

// canonicalize converts one fetched IMAP message into the normalized form.
func canonicalize(msg *imap.Message, section *imap.BodySectionName) (*CanonicalMessage, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("%w: message %d has no envelope", ErrParse, msg.Uid)
	}

	canonical := &CanonicalMessage{
		UID:       msg.Uid,
		MessageID: strings.Trim(msg.Envelope.MessageId, "<>"),
		Subject:   msg.Envelope.Subject,
		From:      firstAddress(msg.Envelope.From),
		To:        addressList(msg.Envelope.To),
		Cc:        addressList(msg.Envelope.Cc),
		Bcc:       addressList(msg.Envelope.Bcc),
		Date:      msg.Envelope.Date,
		Flags:     msg.Flags,
	}

	if canonical.MessageID == "" {
		// Synthesize a stable key when the sender omitted Message-ID.
		canonical.MessageID = fmt.Sprintf("uid-%d-%d", msg.Uid, canonical.Date.Unix())
	}

	if body := msg.GetBody(section); body != nil {
		text, html, err := parseMessage(body)
		if err != nil {
			return nil, err
		}
		canonical.BodyText = text
		canonical.BodyHTML = html
	}

	return canonical, nil
}

func firstAddress(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].Address()
}

func addressList(addrs []*imap.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address())
	}
	return out
}

// dial opens a TLS (or plain, for local test servers) IMAP connection.
func dial(ctx context.Context, account Account, timeout time.Duration) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)

	type dialResult struct {
		c   *client.Client
		err error
	}
	results := make(chan dialResult, 1)
	go func() {
		var c *client.Client
		var err error
		if account.UseTLS {
			c, err = client.DialTLS(addr, nil)
		} else {
			c, err = client.Dial(addr)
		}
		results <- dialResult{c, err}
	}()

	// A dial that lands after the deadline still produced a live client;
	// drain the channel and log it out instead of leaking the connection.
	abandon := func() {
		go func() {
			if res := <-results; res.c != nil {
				res.c.Logout()
			}
		}()
	}

	select {
	case <-ctx.Done():
		abandon()
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, ctx.Err())
	case <-time.After(timeout):
		abandon()
		return nil, fmt.Errorf("%w: dial %s: timeout after %v", ErrConnection, addr, timeout)
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, res.err)
		}
		return res.c, nil
	}
}

// authenticate logs in with an app password or an OAuth2 bearer token.
func authenticate(c *client.Client, account Account) error {
	switch account.AuthMethod {
	case "oauth2":
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.OAuthToken})
		token, err := source.Token()
		if err != nil {
			return fmt.Errorf("%w: token source: %v", ErrAuth, err)
		}
		if err := c.Authenticate(newXOAuth2Client(account.Username, token.AccessToken)); err != nil {
			return fmt.Errorf("%w: XOAUTH2 for %s: %v", ErrAuth, account.Username, err)
		}
	default:
		if err := c.Login(account.Username, account.Password); err != nil {
			return fmt.Errorf("%w: login for %s: %v", ErrAuth, account.Username, err)
		}
	}
	return nil
}

// xoauth2Client implements the SASL XOAUTH2 mechanism used by Gmail and
// Outlook IMAP endpoints.
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (x *xoauth2Client) Start() (string, []byte, error) {
	payload := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", x.username, x.token)
	return "XOAUTH2", []byte(payload), nil
}

func (x *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// Any challenge after the initial response is an error report.
	return nil, fmt.Errorf("%w: XOAUTH2 rejected: %s", ErrAuth, string(challenge))
}
