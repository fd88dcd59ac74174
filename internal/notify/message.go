package notify

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"stockwatch/internal/catalog"
	"stockwatch/internal/faults"
)

// Field is a labelled line of a rendered message.
type Field struct {
	Name  string
	Value string
}

// Message is the channel-neutral rendering of an Event.
type Message struct {
	Title     string
	Body      string
	URL       string
	Tags      []string
	Priority  string
	Color     int
	Fields    []Field
	Timestamp time.Time
	Event     Event
}

const (
	colorNew      = 0x2ecc71
	colorRestock  = 0x3498db
	colorSoldOut  = 0x95a5a6
	colorTitle    = 0xf39c12
	colorPrice    = 0x9b59b6
	colorWarning  = 0xf1c40f
	colorCritical = 0xe74c3c
	colorTest     = 0x7f8c8d
)

var numbers = message.NewPrinter(language.English)

func formatPrice(value int64) string {
	return numbers.Sprintf("%d", value)
}

func stockLabel(inStock bool) string {
	if inStock {
		return "in stock"
	}
	return "sold out"
}

// Render converts an event into a channel-neutral message.
func Render(event Event) Message {
	switch event.Kind {
	case EventChange:
		if event.Change != nil {
			return renderChange(event)
		}
	case EventAlert:
		if event.Alert != nil {
			return renderAlert(event)
		}
	}
	return Message{
		Title:     "stockwatch - Test",
		Body:      "Notification system test",
		Tags:      []string{"stockwatch", "test"},
		Priority:  "low",
		Color:     colorTest,
		Timestamp: event.At,
		Event:     event,
	}
}

func renderChange(event Event) Message {
	change := event.Change
	p := change.Payload
	msg := Message{
		URL:       p.URL,
		Tags:      []string{"stockwatch", strings.ToLower(string(change.Type))},
		Timestamp: change.OccurredAt,
		Event:     event,
		Fields: []Field{
			{Name: "Code", Value: change.Code},
			{Name: "Price", Value: formatPrice(p.Price)},
			{Name: "Stock", Value: stockLabel(p.InStock)},
		},
	}

	var lines []string
	switch change.Type {
	case catalog.ChangeNew:
		msg.Title = "New item: " + p.Title
		msg.Color = colorNew
		msg.Priority = "high"
	case catalog.ChangeRestock:
		msg.Title = "Back in stock: " + p.Title
		msg.Color = colorRestock
		msg.Priority = "high"
	case catalog.ChangeSoldOut:
		msg.Title = "Sold out: " + p.Title
		msg.Color = colorSoldOut
	case catalog.ChangeTitleUpdate:
		msg.Title = "Title changed: " + p.Title
		msg.Color = colorTitle
	case catalog.ChangePriceUpdate:
		msg.Title = "Price changed: " + p.Title
		msg.Color = colorPrice
	default:
		msg.Title = string(change.Type) + ": " + p.Title
	}
	if p.TitleChanged() {
		lines = append(lines, fmt.Sprintf("Title: %s -> %s", *p.PreviousTitle, p.Title))
	}
	if p.PriceChanged() {
		lines = append(lines, fmt.Sprintf("Price: %s -> %s", formatPrice(*p.PreviousPrice), formatPrice(p.Price)))
	}
	if p.PreviousInStock != nil && *p.PreviousInStock != p.InStock {
		lines = append(lines, fmt.Sprintf("Stock: %s -> %s", stockLabel(*p.PreviousInStock), stockLabel(p.InStock)))
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("%s (%s)", p.Title, stockLabel(p.InStock)))
	}
	msg.Body = strings.Join(lines, "\n")
	return msg
}

func renderAlert(event Event) Message {
	alert := event.Alert
	stage := strings.TrimSpace(alert.Stage)
	if stage == "" {
		stage = "cycle"
	}
	msg := Message{
		Title:     fmt.Sprintf("stockwatch %s: %s failed", alert.Severity, stage),
		Tags:      []string{"stockwatch", "alert", string(alert.Severity)},
		Timestamp: event.At,
		Event:     event,
		Color:     colorWarning,
		Priority:  "default",
	}
	if alert.Severity == faults.SeverityCritical {
		msg.Color = colorCritical
		msg.Priority = "urgent"
	}
	body := strings.TrimSpace(alert.Message)
	if body == "" {
		body = "unknown failure"
	}
	if alert.Hint != "" {
		body += "\nNext step: " + alert.Hint
	}
	msg.Body = body
	if alert.Kind != faults.KindNone {
		msg.Fields = append(msg.Fields, Field{Name: "Kind", Value: string(alert.Kind)})
	}
	if event.RunID > 0 {
		msg.Fields = append(msg.Fields, Field{Name: "Run", Value: fmt.Sprintf("%d", event.RunID)})
	}
	return msg
}
