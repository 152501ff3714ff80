package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/worker"
)

// ErrMailboxNotConfigured is returned by operations that need a mailbox
// when none was supplied.
var ErrMailboxNotConfigured = errors.New("mailbox not configured")

// Email is one message.
type Email struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Body        string    `json:"content"`
	Date        time.Time `json:"date"`
	Attachments []string  `json:"attachments,omitempty"`
}

// MailQuery filters Fetch. Zero fields match everything.
type MailQuery struct {
	Since           time.Time
	From            string
	SubjectContains string
	Limit           int
}

// Mailbox is the mail transport. Implementations should return errors that
// report Temporary() for transient network failures.
type Mailbox interface {
	Fetch(ctx context.Context, q MailQuery) ([]Email, error)
	Archive(ctx context.Context, ids []string) (int, error)
}

// EmailClassification is the rule-based triage of one Email.
type EmailClassification struct {
	Category string `json:"category"`
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

// ClassifiedEmail pairs an Email with its classification.
type ClassifiedEmail struct {
	Email
	Classification EmailClassification `json:"classification"`
}

// Draft is a reply saved to the email_drafts category.
type Draft struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Intent    string    `json:"intent"`
	CreatedAt time.Time `json:"created_at"`
}

const defaultReplyIntent = "Thanks, confirming receipt."

// EmailWorker reads, triages, drafts replies to and archives mail.
type EmailWorker struct {
	base
	mailbox Mailbox
	store   KnowledgeStore
}

// NewEmailWorker creates the email worker. mailbox may be nil, in which case
// read_emails and archive fail without retry.
func NewEmailWorker(mailbox Mailbox, store KnowledgeStore) *EmailWorker {
	w := &EmailWorker{
		base:    base{id: worker.Email, logger: slog.Default()},
		mailbox: mailbox,
		store:   store,
	}
	w.handlers = worker.Handlers{
		worker.ReadEmails: w.readEmails,
		worker.Classify:   w.classify,
		worker.Reply:      w.reply,
		worker.Archive:    w.archive,
	}
	return w
}

// ClassifyEmail applies the triage rules: urgent subjects and known senders
// are important, notifications are low priority, everything else is work.
func ClassifyEmail(e Email) EmailClassification {
	subject := strings.ToLower(e.Subject)
	sender := strings.ToLower(e.From)
	switch {
	case strings.Contains(subject, "urgent") || strings.Contains(subject, "紧急"):
		return EmailClassification{Category: "important", Priority: "high", Reason: "subject marked urgent"}
	case strings.Contains(sender, "boss") || strings.Contains(sender, "领导"):
		return EmailClassification{Category: "important", Priority: "high", Reason: "important sender"}
	case strings.Contains(sender, "notification") || strings.Contains(sender, "noreply") ||
		strings.Contains(sender, "no-reply") || strings.Contains(subject, "通知"):
		return EmailClassification{Category: "notification", Priority: "low", Reason: "automated notification"}
	}
	return EmailClassification{Category: "work", Priority: "medium", Reason: "regular correspondence"}
}

func (w *EmailWorker) fetch(ctx context.Context, st worker.Subtask) ([]Email, *worker.Outcome) {
	if w.mailbox == nil {
		out := worker.Failure("%s: %v", st.Kind, ErrMailboxNotConfigured)
		return nil, &out
	}
	q := MailQuery{
		From:            worker.String(st.Params, "from", ""),
		SubjectContains: worker.String(st.Params, "subject_contains", ""),
		Limit:           worker.Int(st.Params, "limit", 0),
	}
	if since := worker.String(st.Params, "since", ""); since != "" {
		t, err := time.Parse(time.DateOnly, since)
		if err != nil {
			out := worker.Failure("%s: since must be YYYY-MM-DD, got %q", st.Kind, since)
			return nil, &out
		}
		q.Since = t
	}
	emails, err := w.mailbox.Fetch(ctx, q)
	if err != nil {
		out := worker.Transient("%s: reading mailbox: %v", st.Kind, err)
		return nil, &out
	}
	return emails, nil
}

func (w *EmailWorker) readEmails(ctx context.Context, st worker.Subtask) worker.Outcome {
	emails, fail := w.fetch(ctx, st)
	if fail != nil {
		return *fail
	}
	if emails == nil {
		emails = []Email{}
	}
	return worker.Success(map[string]any{"emails": emails, "count": len(emails)})
}

func (w *EmailWorker) classify(ctx context.Context, st worker.Subtask) worker.Outcome {
	var emails []Email
	if raw, ok := st.Params["emails"]; ok {
		if err := decode(raw, &emails); err != nil {
			return worker.Failure("classify: malformed emails: %v", err)
		}
	} else {
		var fail *worker.Outcome
		if emails, fail = w.fetch(ctx, st); fail != nil {
			return *fail
		}
	}

	classified := make([]ClassifiedEmail, 0, len(emails))
	counts := map[string]int{}
	for _, e := range emails {
		c := ClassifyEmail(e)
		counts[c.Category]++
		classified = append(classified, ClassifiedEmail{Email: e, Classification: c})
	}
	return worker.Success(map[string]any{"classified_emails": classified, "by_category": counts})
}

// DraftReply builds a reply to original expressing intent.
func DraftReply(original Email, intent string) Draft {
	if intent == "" {
		intent = defaultReplyIntent
	}
	subject := original.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var body strings.Builder
	body.WriteString("Hello,\n\n")
	if original.Subject != "" {
		fmt.Fprintf(&body, "I received your email about %q.\n\n", original.Subject)
	}
	body.WriteString(intent)
	body.WriteString("\n\nPlease let me know if you have any other questions.\n\nBest regards\n")

	return Draft{
		ID:        uuid.NewString(),
		To:        original.From,
		Subject:   subject,
		Body:      body.String(),
		Intent:    intent,
		CreatedAt: now().UTC(),
	}
}

func (w *EmailWorker) reply(_ context.Context, st worker.Subtask) worker.Outcome {
	var original Email
	if raw, ok := st.Params["email"]; ok {
		if err := decode(raw, &original); err != nil {
			return worker.Failure("reply: malformed email: %v", err)
		}
	}
	draft := DraftReply(original, worker.String(st.Params, "intent", ""))

	persisted := true
	if err := w.store.SaveKnowledge(CategoryDrafts, draft.ID, draft); err != nil {
		var perr *memory.PersistenceError
		if !errors.As(err, &perr) {
			return worker.Failure("reply: saving draft: %v", err)
		}
		w.logger.Warn("draft saved in memory only", "draft", draft.ID, "error", err)
		persisted = false
	}
	return worker.Success(map[string]any{"draft": draft, "persisted": persisted})
}

func (w *EmailWorker) archive(ctx context.Context, st worker.Subtask) worker.Outcome {
	if w.mailbox == nil {
		return worker.Failure("archive: %v", ErrMailboxNotConfigured)
	}
	ids := worker.Strings(st.Params, "email_ids")
	if len(ids) == 0 {
		return worker.Failure("archive: email_ids is required")
	}
	n, err := w.mailbox.Archive(ctx, ids)
	if err != nil {
		return worker.Transient("archive: %v", err)
	}
	return worker.Success(map[string]any{"archived": n, "requested": len(ids)})
}
