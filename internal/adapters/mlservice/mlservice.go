// Package mlservice — клиент внешнего ML-сервиса классификации новостей.
// Сама модель (обучение и инференс) живёт в отдельном процессе; здесь —
// только контракт вызова: батч-предсказание и запуск обучения. Артефакты
// модели сервис пишет в общий каталог, присутствие модели проверяется
// по файлам (см. пакет classifier).
package mlservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedfusion/internal/domain/classifier"
	"feedfusion/internal/repos"
)

// httpClientTimeout покрывает батч-инференс; обучение ограничивается
// trainTimeout отдельно, потому что идёт минуты.
const (
	httpClientTimeout = 60 * time.Second
	trainTimeout      = 2 * time.Hour
)

// Client реализует classifier.Predictor и classifier.Trainer поверх HTTP JSON.
type Client struct {
	baseURL string
	device  string
	client  *http.Client
}

// New создаёт клиента ML-сервиса.
func New(baseURL, device string) *Client {
	return &Client{
		baseURL: baseURL,
		device:  device,
		client:  &http.Client{Timeout: httpClientTimeout},
	}
}

// PredictMany выполняет батч-предсказание категорий.
func (c *Client) PredictMany(ctx context.Context, inputs []classifier.PredictionInput) ([]classifier.Prediction, error) {
	req := struct {
		Device string                       `json:"device"`
		Inputs []classifier.PredictionInput `json:"inputs"`
	}{Device: c.device, Inputs: inputs}

	var resp struct {
		Predictions []classifier.Prediction `json:"predictions"`
	}
	if err := c.post(ctx, "/predict", req, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// Train запускает обучение и блокируется до его завершения.
func (c *Client) Train(ctx context.Context, samples []classifier.TrainingSample, config repos.JSONMap, resume bool) (classifier.TrainingResult, error) {
	trainCtx, cancel := context.WithTimeout(ctx, trainTimeout)
	defer cancel()

	req := struct {
		Device  string                      `json:"device"`
		Resume  bool                        `json:"resume"`
		Config  repos.JSONMap               `json:"config,omitempty"`
		Samples []classifier.TrainingSample `json:"samples"`
	}{Device: c.device, Resume: resume, Config: config, Samples: samples}

	var resp struct {
		Metrics repos.JSONMap `json:"metrics"`
	}
	if err := c.post(trainCtx, "/train", req, &resp); err != nil {
		return classifier.TrainingResult{}, err
	}
	return classifier.TrainingResult{Metrics: resp.Metrics}, nil
}

// post выполняет POST JSON и декодирует ответ в out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ml service %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ml service %s: read response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml service %s: status %s: %s", path, resp.Status, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ml service %s: decode response: %w", path, err)
	}
	return nil
}
