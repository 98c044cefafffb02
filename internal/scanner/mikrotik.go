// Package scanner lists the hardware addresses currently connected to the
// space network.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

// Scheme selects how the RouterOS REST API is reached.
type Scheme string

const (
	SchemeAuto  Scheme = "auto" // https first, then http
	SchemeHTTPS Scheme = "https"
	SchemeHTTP  Scheme = "http"
)

// MikrotikConfig configures the RouterOS lease scanner.
type MikrotikConfig struct {
	Host     string
	Username string
	Password string
	Scheme   Scheme
	// MaxLastSeen drops leases not seen for longer than this. Zero keeps
	// every lease.
	MaxLastSeen time.Duration
}

// Lease is one DHCP lease as returned by RouterOS.
type Lease struct {
	MACAddress string `json:"mac-address"`
	LastSeen   string `json:"last-seen"`
}

// Mikrotik reads DHCP leases from a RouterOS router.
type Mikrotik struct {
	httpClient *resty.Client
	cfg        MikrotikConfig
	logger     *zap.Logger
}

func NewMikrotik(cfg MikrotikConfig, logger *zap.Logger) *Mikrotik {
	if cfg.Scheme == "" {
		cfg.Scheme = SchemeAuto
	}
	client := resty.New().
		SetTimeout(5*time.Second).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Mikrotik{httpClient: client, cfg: cfg, logger: logger.Named("scanner.mikrotik")}
}

// ListConnectedIdentifiers returns the normalized MAC addresses of the
// current leases.
func (m *Mikrotik) ListConnectedIdentifiers(ctx context.Context) ([]string, error) {
	leases, err := m.Leases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(leases))
	for _, l := range leases {
		addr, err := model.ParseMAC(l.MACAddress)
		if err != nil {
			continue
		}
		if m.cfg.MaxLastSeen > 0 {
			seen, err := ParseRouterOSDuration(l.LastSeen)
			if err != nil || seen > m.cfg.MaxLastSeen {
				continue
			}
		}
		out = append(out, addr)
	}
	return out, nil
}

// Leases fetches the raw lease list. In auto mode a failed https request is
// retried once over http.
func (m *Mikrotik) Leases(ctx context.Context) ([]Lease, error) {
	switch m.cfg.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		return m.attempt(ctx, string(m.cfg.Scheme))
	}
	leases, err := m.attempt(ctx, "https")
	if err == nil {
		return leases, nil
	}
	m.logger.Warn("Mikrotik https request failed, retrying over http", zap.String("host", m.cfg.Host), zap.Error(err))
	return m.attempt(ctx, "http")
}

func (m *Mikrotik) attempt(ctx context.Context, scheme string) ([]Lease, error) {
	url := fmt.Sprintf("%s://%s/rest/ip/dhcp-server/lease/print", scheme, m.cfg.Host)
	var leases []Lease
	resp, err := m.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{".proplist": []string{"mac-address", "last-seen"}}).
		SetResult(&leases).
		Post(url)
	if err != nil {
		m.logger.Error("Mikrotik request error", zap.String("scheme", scheme), zap.String("host", m.cfg.Host), zap.Error(err))
		return nil, fmt.Errorf("mikrotik %s request: %w", scheme, err)
	}
	if resp.IsError() {
		m.logger.Error("Mikrotik HTTP status error",
			zap.String("scheme", scheme),
			zap.String("host", m.cfg.Host),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("mikrotik %s returned %d", scheme, resp.StatusCode())
	}
	return leases, nil
}

var errBadDuration = errors.New("invalid RouterOS duration")

// ParseRouterOSDuration parses values such as "1w2d3h4m5s" or "45s".
// "never" maps to the largest duration.
func ParseRouterOSDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "never" {
		return time.Duration(1<<63 - 1), nil
	}
	if s == "" {
		return 0, errBadDuration
	}
	var total time.Duration
	num := ""
	for _, r := range s {
		if r >= '0' && r <= '9' {
			num += string(r)
			continue
		}
		if num == "" {
			return 0, errBadDuration
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, errBadDuration
		}
		var unit time.Duration
		switch r {
		case 'w':
			unit = 7 * 24 * time.Hour
		case 'd':
			unit = 24 * time.Hour
		case 'h':
			unit = time.Hour
		case 'm':
			unit = time.Minute
		case 's':
			unit = time.Second
		default:
			return 0, errBadDuration
		}
		total += time.Duration(n) * unit
		num = ""
	}
	if num != "" {
		return 0, errBadDuration
	}
	return total, nil
}
