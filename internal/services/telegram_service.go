package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"
)

// Reconciler receives blobs that are no longer referenced by any row but
// could not be deleted.
type Reconciler interface {
	ReportOrphans(op string, paths []string)
}

const orphanReportTimeout = 10 * time.Second

// TelegramService reports orphaned blobs to the admin chat of a Telegram bot.
// With no bot token or chat configured the reports are only logged.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     "https://api.telegram.org",
		client:      &http.Client{},
	}
}

func (s *TelegramService) enabled() bool {
	return s.botToken != "" && s.adminChatID != ""
}

// ReportOrphans logs every orphaned blob and notifies the admin chat in the background.
func (s *TelegramService) ReportOrphans(op string, paths []string) {
	if len(paths) == 0 {
		return
	}
	for _, p := range paths {
		log.Printf("[Reconcile] orphaned blob after %s: %s", op, p)
	}
	if !s.enabled() {
		return
	}

	report := orphanReport(op, paths)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), orphanReportTimeout)
		defer cancel()
		if err := s.notify(ctx, report); err != nil {
			log.Printf("[Reconcile] could not notify admin: %v", err)
		}
	}()
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// notify posts an HTML formatted message to the admin chat.
func (s *TelegramService) notify(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    s.adminChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	endpoint := s.apiBase + "/bot" + s.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || !result.OK {
		if result.Description != "" {
			return fmt.Errorf("sendMessage: %s (status %d)", result.Description, resp.StatusCode)
		}
		return fmt.Errorf("sendMessage: status %d", resp.StatusCode)
	}
	return nil
}

func orphanReport(op string, paths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Orphaned files after %s</b>\n", html.EscapeString(op))
	for i, p := range paths {
		fmt.Fprintf(&b, "%d. <code>%s</code>\n", i+1, html.EscapeString(p))
	}
	b.WriteString("<i>Remove them from storage manually.</i>")
	return b.String()
}
