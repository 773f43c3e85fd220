// Package smtp accepts inbound mail over SMTP and hands each message to the
// processing pipeline.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/config"
	"github.com/emitt/replyd/internal/email"
)

// handlerTimeout bounds the pipeline run for one accepted message.
const handlerTimeout = 5 * time.Minute

// EmailHandler is called when a new email is received
type EmailHandler func(ctx context.Context, e *email.ProcessedEmail) error

// Server is an SMTP server for receiving inbound emails
type Server struct {
	cfg     *config.ServerConfig
	server  *smtp.Server
	handler EmailHandler
	parser  *email.Parser
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// NewServer creates a new SMTP server. maxContentLength is handed to the
// parser.
func NewServer(cfg *config.ServerConfig, maxContentLength int, handler EmailHandler, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		parser:  email.NewParser(maxContentLength, logger),
		logger:  logger.With().Str("component", "smtp").Logger(),
	}

	s.server = smtp.NewServer(&smtpBackend{server: s})
	s.server.Addr = fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	s.server.Domain = cfg.SMTPDomain
	s.server.ReadTimeout = 60 * time.Second
	s.server.WriteTimeout = 60 * time.Second
	s.server.MaxMessageBytes = 25 * 1024 * 1024
	s.server.MaxRecipients = 100

	if cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to load TLS certificate")
		} else {
			s.server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
			}
		}
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the SMTP server
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Str("domain", s.server.Domain).
		Msg("Starting SMTP server")

	return s.server.ListenAndServe()
}

// Stop closes the listener and waits for in-flight messages to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping SMTP server")
	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Gave up waiting for in-flight messages")
	}
	return err
}

// isAllowedDomain checks if the recipient domain is allowed
func (s *Server) isAllowedDomain(addr string) bool {
	if len(s.cfg.AllowedDomains) == 0 {
		return true
	}

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return false
	}
	domain := strings.ToLower(parts[1])

	for _, allowed := range s.cfg.AllowedDomains {
		if strings.ToLower(allowed) == domain {
			return true
		}
	}
	return false
}

func (s *Server) dispatch(parsed *email.ProcessedEmail) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if err := s.handler(ctx, parsed); err != nil {
			s.logger.Error().
				Err(err).
				Str("message_id", parsed.MessageID).
				Msg("Failed to handle email")
		}
	}()
}

// smtpBackend implements smtp.Backend
type smtpBackend struct {
	server *Server
}

func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{server: b.server}, nil
}

// smtpSession implements smtp.Session
type smtpSession struct {
	server *Server
	from   string
	to     []string
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.server.logger.Debug().Str("from", from).Msg("MAIL FROM")
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.server.logger.Debug().Str("to", to).Msg("RCPT TO")

	if !s.server.isAllowedDomain(to) {
		s.server.logger.Warn().
			Str("to", to).
			Msg("Rejected: domain not allowed")
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Domain not allowed",
		}
	}

	s.to = append(s.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		s.server.logger.Error().Err(err).Msg("Failed to read message data")
		return err
	}

	parsed, err := s.server.parser.ParseBytes(buf.Bytes())
	if err != nil {
		s.server.logger.Error().Err(err).Msg("Failed to parse email")
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Failed to parse message",
		}
	}

	// Envelope addresses stand in for missing headers.
	if parsed.From == "" {
		parsed.From = s.from
	}
	if parsed.To == "" {
		parsed.To = strings.Join(s.to, ", ")
	}

	s.server.logger.Info().
		Str("from", parsed.From).
		Strs("to", parsed.ToAddresses()).
		Str("subject", parsed.Subject).
		Str("message_id", parsed.MessageID).
		Int("size", parsed.RawSize).
		Msg("Received email")

	s.server.dispatch(parsed)
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *smtpSession) Logout() error {
	return nil
}
