package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DiscordChannel posts embeds to a Discord webhook.
type DiscordChannel struct {
	name     string
	endpoint string
	username string
	client   *http.Client
}

// NewDiscord builds a webhook channel. name distinguishes the change channel
// from the alert channel in logs and metrics.
func NewDiscord(name, webhookURL, username string, timeout time.Duration) *DiscordChannel {
	if strings.TrimSpace(name) == "" {
		name = "discord"
	}
	return &DiscordChannel{
		name:     name,
		endpoint: strings.TrimSpace(webhookURL),
		username: strings.TrimSpace(username),
		client:   newHTTPClient(timeout),
	}
}

func (d *DiscordChannel) Name() string { return d.name }

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// Discord caps embed titles at 256 characters.
const discordTitleLimit = 256

func (d *DiscordChannel) Send(ctx context.Context, msg Message) error {
	embed := discordEmbed{
		Title:       truncateRunes(msg.Title, discordTitleLimit),
		Description: msg.Body,
		URL:         msg.URL,
		Color:       msg.Color,
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, field := range msg.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: field.Name, Value: field.Value, Inline: true})
	}
	if cid := msg.Event.CorrelationID; cid != "" {
		embed.Footer = &discordFooter{Text: "cycle " + cid}
	}

	body, err := json.Marshal(discordPayload{Username: d.username, Embeds: []discordEmbed{embed}})
	if err != nil {
		return permanent(d.name, fmt.Errorf("encode discord payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return permanent(d.name, fmt.Errorf("build discord request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return transportError(d.name, fmt.Errorf("send discord webhook: %w", err))
	}
	defer resp.Body.Close()
	if de := responseError(d.name, resp); de != nil {
		return de
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
