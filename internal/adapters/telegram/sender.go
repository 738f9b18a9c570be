// Package telegram реализует транспорт доставки новостей поверх Telegram Bot API.
//
// В этом файле:
//   - настраивается HTTP-клиент и общий троттлер запросов (token bucket);
//   - реализуются sendMessage (текст) и sendPhoto (картинка с подписью) с parse_mode=HTML;
//   - классифицируются ошибки Bot API на временные (429, 5xx) и постоянные (остальные 4xx).
//
// Идемпотентность обеспечивается повторным вызовом с теми же параметрами:
// дубликат сообщения в чате допустим, потеря — нет.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// httpClientTimeout — таймаут HTTP-клиента, секунды. Верхняя страховка поверх
// контекстного таймаута отправки.
const httpClientTimeout = 30

// permanentError помечает ошибки Bot API, по которым повтор бессмыслен
// (большинство 4xx). Потребитель доставки всё равно ограничивает повторы
// счётчиком, поэтому различие влияет только на текст лога.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent сообщает, является ли ошибка отправки постоянной.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// BotSender — отправщик сообщений через Bot API для одного бота.
type BotSender struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewBotSender создаёт отправщика. rps задаёт целевую среднюю частоту запросов.
func NewBotSender(token string, rps int) *BotSender {
	if rps <= 0 {
		rps = 1
	}
	return &BotSender{
		baseURL: "https://api.telegram.org/bot" + token,
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// SendText отправляет HTML-сообщение в чат.
func (s *BotSender) SendText(ctx context.Context, chatID, html string) error {
	payload := struct {
		ChatID                string `json:"chat_id"`
		Text                  string `json:"text"`
		ParseMode             string `json:"parse_mode"`
		DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	}{
		ChatID:                chatID,
		Text:                  html,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	return s.call(ctx, "sendMessage", payload)
}

// SendPhoto отправляет картинку по URL с HTML-подписью.
func (s *BotSender) SendPhoto(ctx context.Context, chatID, imageURL, captionHTML string) error {
	payload := struct {
		ChatID    string `json:"chat_id"`
		Photo     string `json:"photo"`
		Caption   string `json:"caption"`
		ParseMode string `json:"parse_mode"`
	}{
		ChatID:    chatID,
		Photo:     imageURL,
		Caption:   captionHTML,
		ParseMode: "HTML",
	}
	return s.call(ctx, "sendPhoto", payload)
}

// call выполняет POST JSON к методу Bot API под троттлером.
func (s *BotSender) call(ctx context.Context, method string, payload any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return normalizeHTTPError(resp.StatusCode, respBody)
	}
	return normalizeAPIResponse(respBody)
}

// normalizeHTTPError приводит не-200 ответы HTTP к ошибке с пометкой
// постоянства: 429 и 5xx — временные, остальные 4xx — постоянные.
func normalizeHTTPError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("bot api rate limit (%d): %s", status, msg)
	case status >= 400 && status < 500:
		return &permanentError{fmt.Errorf("bot api client error (%d): %s", status, msg)}
	default:
		return fmt.Errorf("bot api server error (%d): %s", status, msg)
	}
}

// normalizeAPIResponse разбирает JSON-ответ Bot API по тем же правилам,
// учитывая parameters.retry_after как признак временной ошибки.
func normalizeAPIResponse(body []byte) error {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("bot api decode response: %w", err)
	}
	if apiResp.OK {
		return nil
	}

	msg := strings.TrimSpace(apiResp.Description)
	if msg == "" {
		msg = "(empty bot api description)"
	}

	if apiResp.ErrorCode == http.StatusTooManyRequests || apiResp.Parameters.RetryAfter > 0 {
		return fmt.Errorf("bot api rate limit (%d): %s", apiResp.ErrorCode, msg)
	}
	if apiResp.ErrorCode >= 400 && apiResp.ErrorCode < 500 {
		return &permanentError{fmt.Errorf("bot api error %d: %s", apiResp.ErrorCode, msg)}
	}
	return fmt.Errorf("bot api error %d: %s", apiResp.ErrorCode, msg)
}
