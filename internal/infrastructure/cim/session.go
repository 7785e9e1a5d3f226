package cim

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"CoverityPublisher/internal/config"
	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

const (
	defectServicePath = "/ws/v9/defectservice"
	maxResponseBytes  = 64 << 20
)

// Session talks to the defect service of one Connect instance. It is not
// safe for concurrent use.
type Session struct {
	instance string
	endpoint string
	user     string
	password string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ ports.DefectSession = (*Session)(nil)

// NewSession builds a session with its own connection pool. A nil client
// gets one with the instance timeout.
func NewSession(inst config.InstanceConfig, client *http.Client, logger *slog.Logger) (*Session, error) {
	if strings.TrimSpace(inst.URL) == "" {
		return nil, fmt.Errorf("instance %s has no url", inst.Name)
	}
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		client = &http.Client{Timeout: inst.Timeout, Transport: transport}
	}

	limit := rate.Inf
	if inst.RequestsPerSecond > 0 {
		limit = rate.Limit(inst.RequestsPerSecond)
	}

	return &Session{
		instance: inst.Name,
		endpoint: strings.TrimSuffix(inst.URL, "/") + defectServicePath,
		user:     inst.User,
		password: inst.Password,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}, nil
}

// GetMergedDefectsForStreams requests one page of merged defects.
func (s *Session) GetMergedDefectsForStreams(ctx context.Context, filter ports.StreamFilter, offset, pageSize int) (ports.DefectPage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return ports.DefectPage{}, fmt.Errorf("wait for request slot: %w", err)
	}

	payload, err := xml.Marshal(newRequest(s.user, s.password, filter, offset, pageSize))
	if err != nil {
		return ports.DefectPage{}, fmt.Errorf("marshal request: %w", err)
	}

	started := time.Now()
	body, status, contentType, err := s.post(ctx, append([]byte(xml.Header), payload...))
	if err != nil {
		return ports.DefectPage{}, err
	}
	s.debug("defect page", "instance", s.instance, "stream", filter.Stream, "offset", offset, "status", status, "elapsed", time.Since(started))

	if strings.Contains(contentType, "html") {
		return ports.DefectPage{}, &domain.ServiceFault{
			Code:    httpCode(status),
			Message: htmlFaultMessage(body),
		}
	}

	var env responseEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		if status != http.StatusOK {
			return ports.DefectPage{}, fmt.Errorf("defect service returned %d", status)
		}
		return ports.DefectPage{}, fmt.Errorf("decode response: %w", err)
	}

	if env.Body.Fault != nil {
		return ports.DefectPage{}, env.Body.Fault.toDomain()
	}
	if env.Body.Response == nil {
		return ports.DefectPage{}, fmt.Errorf("defect service returned %d without a result", status)
	}

	ret := env.Body.Response.Return
	page := ports.DefectPage{
		Total:   ret.Total,
		Defects: make([]domain.DefectSummary, 0, len(ret.Defects)),
	}
	for _, m := range ret.Defects {
		d, err := m.toDomain()
		if err != nil {
			return ports.DefectPage{}, fmt.Errorf("decode response: %w", err)
		}
		page.Defects = append(page.Defects, d)
	}
	return page, nil
}

func (s *Session) post(ctx context.Context, payload []byte) ([]byte, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `""`)
	req.Header.Set("User-Agent", "CoverityPublisher/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("request defect page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// Close releases idle connections held by the session.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Session) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func httpCode(status int) string {
	return fmt.Sprintf("HTTP %d", status)
}

// Factory opens sessions for configured instances.
type Factory struct {
	instances map[string]config.InstanceConfig
	logger    *slog.Logger
}

var _ ports.SessionFactory = (*Factory)(nil)

// NewFactory indexes instances by name.
func NewFactory(instances []config.InstanceConfig, logger *slog.Logger) *Factory {
	byName := make(map[string]config.InstanceConfig, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}
	return &Factory{instances: byName, logger: logger}
}

// Open returns a fresh session; sessions are never shared between builds.
func (f *Factory) Open(_ context.Context, instance string) (ports.DefectSession, error) {
	inst, ok := f.instances[instance]
	if !ok {
		return nil, &domain.ConfigurationError{Field: "instance", Reason: fmt.Sprintf("%q is not configured", instance)}
	}
	return NewSession(inst, nil, f.logger)
}
