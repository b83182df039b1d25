// Package smtp implements a Provider that relays through an SMTP server.
package smtp

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/chunkmail/internal/provider"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Provider sends messages with net/smtp using PLAIN auth when credentials
// are configured.
type Provider struct {
	cfg Config

	// sendFn is swapped out in tests.
	sendFn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, sendFn: smtp.SendMail}
}

func (p *Provider) Send(_ context.Context, msg *provider.Message) error {
	raw, err := provider.BuildMIME(msg)
	if err != nil {
		return fmt.Errorf("smtp: build message: %w", err)
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	if err := p.sendFn(addr, auth, msg.From, msg.To, raw); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}

func (p *Provider) Name() string {
	return "smtp"
}
