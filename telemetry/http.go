package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type HTTPConfig struct {
	TankURL string        `mapstructure:"tank-url"`
	PumpURL string        `mapstructure:"pump-url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Authorization is sent as is in the Authorization header.
	Authorization string `mapstructure:"-"`
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout: 10 * time.Second,
	}
}

func (c HTTPConfig) Enabled() bool {
	return c.TankURL != "" || c.PumpURL != ""
}

// HTTPSink POSTs each event as JSON. An empty URL skips that event type.
type HTTPSink struct {
	config HTTPConfig
	client *http.Client
}

func NewHTTPSink(c HTTPConfig) *HTTPSink {
	return &HTTPSink{
		config: c,
		client: &http.Client{Timeout: c.Timeout},
	}
}

func (s *HTTPSink) PublishTank(ctx context.Context, e TankEvent) error {
	return s.post(ctx, s.config.TankURL, newTankPayload(e))
}

func (s *HTTPSink) PublishPump(ctx context.Context, e PumpEvent) error {
	return s.post(ctx, s.config.PumpURL, newPumpPayload(e))
}

func (s *HTTPSink) post(ctx context.Context, url string, payload interface{}) error {
	if url == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Authorization != "" {
		req.Header.Set("Authorization", s.config.Authorization)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("POST %s returned %s", url, res.Status)
	}
	return nil
}
