package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"leadpilot/config"
	"leadpilot/models"
	"leadpilot/sequence"
	"leadpilot/store"
	"leadpilot/utils"
)

// ReplyWorker scans the configured IMAP inbox and flips the reply flag on
// matching leads. The sequence engine itself never talks to IMAP; it only
// reads the flag this worker sets, and the gate unenrolls on the next pass.
type ReplyWorker struct {
	Store    store.Store
	Activity sequence.ActivitySink
	Logger   *log.Logger
	Interval time.Duration
}

func NewReplyWorker(s store.Store, sink sequence.ActivitySink, interval time.Duration, logger *log.Logger) *ReplyWorker {
	return &ReplyWorker{
		Store:    s,
		Activity: sink,
		Logger:   logger,
		Interval: interval,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	time.Sleep(10 * time.Second)

	if config.AppConfig.IMAP.Host == "" {
		rw.Logger.Println("IMAP not configured, reply worker disabled")
		return
	}
	rw.Logger.Println("Reply worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Println("Reply worker shutting down...")
			return
		case <-ticker.C:
			if err := rw.scanInbox(ctx); err != nil {
				rw.Logger.Printf("Inbox scan failed: %v", err)
			}
		}
	}
}

func (rw *ReplyWorker) scanInbox(ctx context.Context) error {
	cfg := config.AppConfig.IMAP

	password := cfg.Password
	if cfg.PasswordEncrypted {
		decrypted, err := utils.Decrypt(password)
		if err != nil {
			return fmt.Errorf("failed to decrypt IMAP password: %v", err)
		}
		password = decrypted
	}

	var imapClient *client.Client
	var err error
	imapAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	switch strings.ToUpper(cfg.Encryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{ServerName: cfg.Host})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{ServerName: cfg.Host})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(cfg.Username, password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := rw.processMessage(ctx, msg); err != nil {
			rw.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}
	return nil
}

func (rw *ReplyWorker) processMessage(ctx context.Context, msg *imap.Message) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return nil
	}
	from := msg.Envelope.From[0]
	fromAddr := fmt.Sprintf("%s@%s", from.MailboxName, from.HostName)

	lead, err := rw.Store.FindLeadByEmail(ctx, fromAddr)
	if err != nil {
		// Not one of ours.
		return nil
	}
	if lead.HasReplied {
		return nil
	}

	snippet := rw.bodySnippet(msg)

	now := time.Now()
	lead.HasReplied = true
	lead.Status = models.StatusReplied
	lead.LastInteraction = &now
	if err := rw.Store.SaveLead(ctx, lead); err != nil {
		return fmt.Errorf("failed to flag reply on lead %d: %v", lead.ID, err)
	}

	rw.Logger.Printf("Reply detected from lead %d (%s)", lead.ID, fromAddr)

	rw.Activity.Emit(ctx, &models.ActivityEvent{
		ActorName:  "System",
		ActionVerb: "replied",
		ActionType: "email",
		EntityType: "lead",
		EntityID:   lead.ID,
		EntityName: lead.Email,
		Priority:   8,
		Metadata: map[string]interface{}{
			"subject": msg.Envelope.Subject,
			"snippet": snippet,
		},
	})
	return nil
}

// bodySnippet pulls the first chunk of plain text from the message for the
// feed entry. Parsing failures just mean an empty snippet.
func (rw *ReplyWorker) bodySnippet(msg *imap.Message) string {
	if msg.Body == nil {
		return ""
	}
	section := imap.BodySectionName{}
	literal, ok := msg.Body[&section]
	if !ok {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return ""
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if strings.Contains(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return ""
				}
				text := strings.TrimSpace(string(b))
				if len(text) > 200 {
					text = text[:200]
				}
				return text
			}
		}
	}
	return ""
}
