package notices

import (
	"log"
	"strings"

	"fragnation-bot/internal/models"
)

// Field is one name/value line of a status notice.
type Field struct {
	Name  string
	Value string
}

// Messenger is the outbound slice of the chat platform the synchronizer
// needs: post a message, edit a message it authored earlier.
type Messenger interface {
	SendNotice(chatID int64, text string) (messageID int, err error)
	EditNotice(chatID int64, messageID int, text string) error
}

// Publisher maintains exactly one externally visible notice per payment
// unit: created once, edited in place afterwards, never re-posted.
type Publisher struct {
	m      Messenger
	footer string
}

func NewPublisher(m Messenger, footer string) *Publisher {
	return &Publisher{m: m, footer: footer}
}

// Publish posts a new notice and returns its reference. Callers persist
// the reference on the owning entity in the same store transaction that
// creates the entity, so no entity is ever visible without its notice.
func (p *Publisher) Publish(chatID int64, title string, fields []Field) (*models.NoticeRef, error) {
	id, err := p.m.SendNotice(chatID, render(title, fields, p.footer))
	if err != nil {
		return nil, err
	}
	return &models.NoticeRef{ChatID: chatID, MessageID: id}, nil
}

// Update rewrites the whole notice: the field set is fully replaced, never
// merged, so no stale line from a previous status survives. An unreachable
// notice (deleted externally) is logged and dropped; the store stays
// authoritative.
func (p *Publisher) Update(ref *models.NoticeRef, title string, fields []Field) {
	if ref == nil {
		return
	}
	if err := p.m.EditNotice(ref.ChatID, ref.MessageID, render(title, fields, p.footer)); err != nil {
		log.Printf("notice edit dropped (chat %d, msg %d): %v", ref.ChatID, ref.MessageID, err)
	}
}

func render(title string, fields []Field, footer string) string {
	b := strings.Builder{}
	b.WriteString(title)
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	if footer != "" {
		b.WriteString("\n\n")
		b.WriteString(footer)
	}
	return b.String()
}
