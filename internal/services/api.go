// Package services binds the record flow to its remote collaborators:
// quota, video metadata, upload targets and the state feed.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/engine"
)

// ErrRejected is returned when the service answered but refused the request.
var ErrRejected = errors.New("request rejected")

// StatusError is a non-2xx answer without a usable body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// APIClient talks to the video backend over REST:
//
//	POST /videos/reserve          {"sourceRef"}            → Reservation
//	PUT  /videos/{id}/status      {"status","metadata"}    → {"ok","message"}
//	PUT  /videos/{id}/file?name=  raw bytes                → UploadResult
type APIClient struct {
	base  *url.URL
	token string
	http  *http.Client
	cb    *gobreaker.CircuitBreaker[interface{}]
	log   logrus.FieldLogger
}

type APIOption func(*APIClient)

func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIClient) { a.http = c }
}

func WithBreaker(cfg BreakerConfig) APIOption {
	return func(a *APIClient) { a.cb = newBreaker(cfg, a.log) }
}

func NewAPIClient(cfg config.APIConfig, log logrus.FieldLogger, opts ...APIOption) (*APIClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api: base url is not set")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	a := &APIClient{
		base:  base,
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   log.WithField("service", "api"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cb == nil {
		a.cb = newBreaker(DefaultBreaker("video-api"), a.log)
	}
	return a, nil
}

func (a *APIClient) endpoint(query url.Values, elem ...string) string {
	u := *a.base
	u.Path = path.Join(append([]string{u.Path}, elem...)...)
	u.RawQuery = query.Encode()
	return u.String()
}

// call sends body and decodes the JSON answer into out. Answers below 500
// with a JSON body are decoded too, so refusals reach the caller.
func (a *APIClient) call(ctx context.Context, method, endpoint, contentType string, body []byte, out any) error {
	_, err := execute(a.cb, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		if err := json.Unmarshal(data, out); err != nil {
			if resp.StatusCode >= 300 {
				return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			}
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		return nil, nil
	})
	return err
}

// ReserveVideoSlot asks for a new video record.
func (a *APIClient) ReserveVideoSlot(ctx context.Context, sourceRef string) (engine.Reservation, error) {
	body, err := json.Marshal(map[string]string{"sourceRef": sourceRef})
	if err != nil {
		return engine.Reservation{}, err
	}
	var res engine.Reservation
	if err := a.call(ctx, http.MethodPost, a.endpoint(nil, "videos", "reserve"), "application/json", body, &res); err != nil {
		return engine.Reservation{}, fmt.Errorf("reserve: %w", err)
	}
	a.log.WithFields(logrus.Fields{"ok": res.OK, "video_id": res.VideoID, "code": res.Code}).Debug("slot reserved")
	return res, nil
}

type statusRequest struct {
	Status   engine.VideoStatus `json:"status"`
	Metadata *engine.Metadata   `json:"metadata,omitempty"`
}

type statusAnswer struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// SetStatus reports a status change of a video record.
func (a *APIClient) SetStatus(ctx context.Context, videoID int64, status engine.VideoStatus, meta *engine.Metadata) error {
	body, err := json.Marshal(statusRequest{Status: status, Metadata: meta})
	if err != nil {
		return err
	}
	var ans statusAnswer
	endpoint := a.endpoint(nil, "videos", strconv.FormatInt(videoID, 10), "status")
	if err := a.call(ctx, http.MethodPut, endpoint, "application/json", body, &ans); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	if !ans.OK {
		return fmt.Errorf("set status %s: %w: %s", status, ErrRejected, ans.Message)
	}
	return nil
}

// Upload stores the recording with the backend.
func (a *APIClient) Upload(ctx context.Context, videoID int64, data []byte, filename string) (engine.UploadResult, error) {
	var res engine.UploadResult
	endpoint := a.endpoint(url.Values{"name": {filename}}, "videos", strconv.FormatInt(videoID, 10), "file")
	if err := a.call(ctx, http.MethodPut, endpoint, contentType(filename), data, &res); err != nil {
		return engine.UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	return res, nil
}

func contentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	}
	return "application/octet-stream"
}
