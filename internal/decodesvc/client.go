// Package decodesvc is a client for a remote decode service. Files the local
// decoders cannot handle are uploaded as a task, polled until done, and the
// rendered PCM is fetched back.
package decodesvc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
)

// ErrTaskFailed is returned when the service reports a task as failed.
var ErrTaskFailed = errors.New("decode task failed")

// Task status values reported by /query_result.
const (
	statusRunning = 0
	statusDone    = 1
	statusFailed  = 2
)

// Client talks to the decode service REST API.
type Client struct {
	apiURL       string
	apiKey       string
	pollInterval time.Duration
	http         *http.Client
	log          logging.LeveledLogger
}

// NewClient creates a decode service client.
func NewClient(apiURL, apiKey string, log logging.LeveledLogger) *Client {
	return &Client{
		apiURL:       apiURL,
		apiKey:       apiKey,
		pollInterval: time.Second,
		http:         &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

// SetPollInterval changes how often a running task is polled.
func (c *Client) SetPollInterval(d time.Duration) { c.pollInterval = d }

type decodeRequest struct {
	FileName   string `json:"file_name"`
	Audio      string `json:"audio"` // base64
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
}

type releaseResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"`
	Result string `json:"result"` // JSON list of resultItem
	Error  string `json:"error"`
}

type resultItem struct {
	File string `json:"file"`
}

// WaitForHealthy blocks until the service answers /health or ctx ends.
func (c *Client) WaitForHealthy(ctx context.Context, retry time.Duration) error {
	c.log.Info("waiting for decode service")
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				c.log.Info("decode service is healthy")
				return nil
			}
		}

		c.log.Debugf("decode service not ready, retrying in %v", retry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// Decode implements audio.Decoder by round-tripping the file through the
// service. Any failure comes back as a *audio.DecodeError.
func (c *Client) Decode(ctx context.Context, name string, data []byte) (*audio.Buffer, error) {
	if len(data) == 0 {
		return nil, &audio.DecodeError{File: name, Err: audio.ErrEmptyInput}
	}
	taskID, err := c.submit(ctx, name, data)
	if err != nil {
		return nil, &audio.DecodeError{File: name, Err: err}
	}
	c.log.Debugf("decode %s: task %s submitted", name, taskID)

	ref, err := c.pollUntilDone(ctx, taskID)
	if err != nil {
		return nil, &audio.DecodeError{File: name, Err: err}
	}
	pcm, err := c.fetch(ctx, ref)
	if err != nil {
		return nil, &audio.DecodeError{File: name, Err: err}
	}
	buf, err := audio.FromInterleaved(audio.SampleRate, audio.Channels, audio.BytesToSamples(pcm))
	if err != nil {
		return nil, &audio.DecodeError{File: name, Err: err}
	}
	return buf, nil
}

func (c *Client) submit(ctx context.Context, name string, data []byte) (string, error) {
	body, err := json.Marshal(decodeRequest{
		FileName:   name,
		Audio:      base64.StdEncoding.EncodeToString(data),
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Format:     "s16le",
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var result releaseResp
	if err := c.post(ctx, "/release_task", body, &result); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}
	if result.Data.TaskID == "" {
		return "", errors.New("API returned no task id")
	}
	return result.Data.TaskID, nil
}

// pollUntilDone returns the file reference of the finished task. Transport
// errors while polling are retried; only ctx ends the wait.
func (c *Client) pollUntilDone(ctx context.Context, taskID string) (string, error) {
	body, _ := json.Marshal(map[string][]string{"task_id_list": {taskID}})

	for {
		var result queryResp
		err := c.post(ctx, "/query_result", body, &result)
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			c.log.Warnf("poll task %s: %v, retrying", taskID, err)
		case len(result.Data) > 0:
			task := result.Data[0]
			switch task.Status {
			case statusDone:
				return extractRef(task.Result)
			case statusFailed:
				if task.Error != "" {
					return "", fmt.Errorf("%w: %s", ErrTaskFailed, task.Error)
				}
				return "", fmt.Errorf("%w: task %s", ErrTaskFailed, taskID)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func extractRef(resultJSON string) (string, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return "", fmt.Errorf("parse result items: %w", err)
	}
	if len(items) == 0 || items[0].File == "" {
		return "", errors.New("no audio file in result")
	}
	return items[0].File, nil
}

// fetch downloads the rendered PCM. ref is a path relative to the API root,
// e.g. "/v1/audio?path=outputs/task_1/0.pcm".
func (c *Client) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path string, body []byte, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
