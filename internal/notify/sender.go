/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"invest-ledger-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// ErrTransientDelivery marks a send failure the queue retries with backoff.
var ErrTransientDelivery = errors.New("transient delivery failure")

// Envelope is one outbound email.
type Envelope struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// HTTPSender posts envelopes as JSON to a mail relay.
type HTTPSender struct {
	client http.Client
	url    string
	token  string
}

func NewHTTPSender(cfg models.MailConfig) (*HTTPSender, error) {
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("mail relay url cannot be empty")
	}
	httpClient, err := createRelayHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create relay http client: %w", err)
	}
	return &HTTPSender{client: httpClient, url: cfg.RelayURL, token: cfg.RelayToken}, nil
}

func createRelayHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 15 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   10 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   30 * time.Second,
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: relay returned %d: %s", ErrTransientDelivery, resp.StatusCode, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSender writes envelopes to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, env Envelope) error {
	zap.L().Info("Email (log sender)",
		zap.String("to", env.To),
		zap.String("subject", env.Subject),
		zap.Int("text_bytes", len(env.Text)))
	return nil
}
