package plugin

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"SiteHealthPlatform/internal/domain"
	"SiteHealthPlatform/pkg/logger"
)

// dialMailServer устанавливает TCP или TLS соединение с почтовым сервером,
// дедлайн контекста переносится на соединение
func dialMailServer(ctx context.Context, hostname string, port int, useSSL bool) (net.Conn, error) {
	address := net.JoinHostPort(hostname, fmt.Sprintf("%d", port))

	var conn net.Conn
	var err error
	if useSSL {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config:    &tls.Config{ServerName: hostname},
		}
		conn, err = dialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}

// mailPort выбирает порт из конфигурации с учетом режима SSL
func mailPort(config domain.CheckConfig, plainPort, sslPort int) (int, bool) {
	useSSL, _ := config.GetBool("use_ssl")

	port := plainPort
	if useSSL {
		port = sslPort
	}
	if v, ok := config.GetInt("port"); ok && v > 0 {
		port = v
	}
	return port, useSSL
}

// validateMailConfig общая валидация цели и порта почтовых проверок
func validateMailConfig(target string, config domain.CheckConfig) error {
	if _, err := extractHostname(target); err != nil {
		return err
	}
	if v, ok := config.GetInt("port"); ok && (v < 1 || v > 65535) {
		return fmt.Errorf("invalid port: %d", v)
	}
	return nil
}

// SMTPCheck проверяет доступность SMTP сервера и поддержку STARTTLS
type SMTPCheck struct {
	logger logger.Logger
}

// NewSMTPCheck создает smtp плагин
func NewSMTPCheck(log logger.Logger) *SMTPCheck {
	return &SMTPCheck{logger: log}
}

// Type возвращает тип проверки
func (s *SMTPCheck) Type() string { return "smtp" }

// DisplayName возвращает название проверки
func (s *SMTPCheck) DisplayName() string { return "SMTP Server Check" }

// Description возвращает описание проверки
func (s *SMTPCheck) Description() string {
	return "Verifies SMTP server connectivity, STARTTLS support and optionally authentication"
}

// ConfigSchema возвращает описание полей конфигурации
func (s *SMTPCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "port", Type: "integer", Default: 587, Description: "SMTP port, 587 submission, 465 implicit SSL, 25 standard"},
		{Name: "use_tls", Type: "boolean", Default: true, Description: "Upgrade the connection with STARTTLS"},
		{Name: "use_ssl", Type: "boolean", Default: false, Description: "Use implicit TLS, typically port 465"},
		{Name: "username", Type: "string", Description: "Authentication username, optional"},
		{Name: "password", Type: "string", Description: "Authentication password, optional"},
		{Name: "verify_auth", Type: "boolean", Default: false, Description: "Attempt authentication with the provided credentials"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (s *SMTPCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	if err := validateMailConfig(target, config); err != nil {
		return err
	}

	if verify, _ := config.GetBool("verify_auth"); verify {
		username, _ := config.GetString("username")
		password, _ := config.GetString("password")
		if username == "" || password == "" {
			return fmt.Errorf("verify_auth requires username and password")
		}
	}

	return nil
}

// Execute выполняет SMTP проверку
func (s *SMTPCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	hostname, err := extractHostname(target)
	if err != nil {
		return nil, err
	}

	port, useSSL := mailPort(config, 587, 465)

	useTLS := true
	if v, ok := config.GetBool("use_tls"); ok {
		useTLS = v
	}

	start := time.Now()
	conn, err := dialMailServer(ctx, hostname, port, useSSL)
	if err != nil {
		s.logger.Debug("smtp check connection failed",
			logger.String("hostname", hostname),
			logger.Int("port", port),
			logger.Error(err))
		return FailureOutcome(fmt.Sprintf("connection failed: %v", err)).
			WithDetail("hostname", hostname).
			WithDetail("port", port), nil
	}

	client, err := smtp.NewClient(conn, hostname)
	if err != nil {
		conn.Close()
		return FailureOutcome(fmt.Sprintf("SMTP greeting failed: %v", err)).
			WithDetail("hostname", hostname).
			WithDetail("port", port), nil
	}
	defer client.Close()

	tlsEstablished := useSSL

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("hostname", hostname).
			WithDetail("port", port).
			WithDetail("tls_established", tlsEstablished).
			WithDetail("elapsed_ms", time.Since(start).Milliseconds())
	}

	if err := client.Hello("sitehealth.local"); err != nil {
		return details(FailureOutcome(fmt.Sprintf("EHLO failed: %v", err))), nil
	}

	if useTLS && !useSSL {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return details(FailureOutcome("server does not support STARTTLS")), nil
		}
		if err := client.StartTLS(&tls.Config{ServerName: hostname}); err != nil {
			return details(FailureOutcome(fmt.Sprintf("STARTTLS failed: %v", err))), nil
		}
		tlsEstablished = true
	}

	authenticated := false
	if verify, _ := config.GetBool("verify_auth"); verify {
		username, _ := config.GetString("username")
		password, _ := config.GetString("password")
		if err := client.Auth(smtp.PlainAuth("", username, password, hostname)); err != nil {
			return details(FailureOutcome(fmt.Sprintf("SMTP authentication failed: %v", err))).
				WithDetail("authenticated", false), nil
		}
		authenticated = true
	}

	client.Quit()

	return details(SuccessOutcome(fmt.Sprintf("SMTP server ready in %dms", time.Since(start).Milliseconds()))).
		WithDetail("authenticated", authenticated), nil
}

// IMAPCheck проверяет приветствие IMAP сервера
type IMAPCheck struct {
	logger logger.Logger
}

// NewIMAPCheck создает imap плагин
func NewIMAPCheck(log logger.Logger) *IMAPCheck {
	return &IMAPCheck{logger: log}
}

// Type возвращает тип проверки
func (i *IMAPCheck) Type() string { return "imap" }

// DisplayName возвращает название проверки
func (i *IMAPCheck) DisplayName() string { return "IMAP Server Check" }

// Description возвращает описание проверки
func (i *IMAPCheck) Description() string {
	return "Verifies that an IMAP server accepts connections and returns a valid greeting"
}

// ConfigSchema возвращает описание полей конфигурации
func (i *IMAPCheck) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "port", Type: "integer", Default: 143, Description: "IMAP port, 143 plain, 993 implicit SSL"},
		{Name: "use_ssl", Type: "boolean", Default: false, Description: "Use implicit TLS, typically port 993"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (i *IMAPCheck) ValidateConfig(target string, config domain.CheckConfig) error {
	return validateMailConfig(target, config)
}

// Execute выполняет IMAP проверку
func (i *IMAPCheck) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	return checkGreeting(ctx, i.logger, "IMAP", target, config, 143, 993, "* OK", "a1 LOGOUT\r\n")
}

// POP3Check проверяет приветствие POP3 сервера
type POP3Check struct {
	logger logger.Logger
}

// NewPOP3Check создает pop3 плагин
func NewPOP3Check(log logger.Logger) *POP3Check {
	return &POP3Check{logger: log}
}

// Type возвращает тип проверки
func (p *POP3Check) Type() string { return "pop3" }

// DisplayName возвращает название проверки
func (p *POP3Check) DisplayName() string { return "POP3 Server Check" }

// Description возвращает описание проверки
func (p *POP3Check) Description() string {
	return "Verifies that a POP3 server accepts connections and returns a valid greeting"
}

// ConfigSchema возвращает описание полей конфигурации
func (p *POP3Check) ConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "port", Type: "integer", Default: 110, Description: "POP3 port, 110 plain, 995 implicit SSL"},
		{Name: "use_ssl", Type: "boolean", Default: false, Description: "Use implicit TLS, typically port 995"},
	}
}

// ValidateConfig валидирует цель и конфигурацию
func (p *POP3Check) ValidateConfig(target string, config domain.CheckConfig) error {
	return validateMailConfig(target, config)
}

// Execute выполняет POP3 проверку
func (p *POP3Check) Execute(ctx context.Context, target string, config domain.CheckConfig) (*Outcome, error) {
	return checkGreeting(ctx, p.logger, "POP3", target, config, 110, 995, "+OK", "QUIT\r\n")
}

// checkGreeting подключается к серверу и сверяет первую строку приветствия
func checkGreeting(ctx context.Context, log logger.Logger, protocol, target string, config domain.CheckConfig, plainPort, sslPort int, wantPrefix, farewell string) (*Outcome, error) {
	hostname, err := extractHostname(target)
	if err != nil {
		return nil, err
	}

	port, useSSL := mailPort(config, plainPort, sslPort)

	start := time.Now()
	conn, err := dialMailServer(ctx, hostname, port, useSSL)
	if err != nil {
		log.Debug("mail greeting connection failed",
			logger.String("protocol", protocol),
			logger.String("hostname", hostname),
			logger.Int("port", port),
			logger.Error(err))
		return FailureOutcome(fmt.Sprintf("connection failed: %v", err)).
			WithDetail("hostname", hostname).
			WithDetail("port", port), nil
	}
	defer conn.Close()

	greeting, err := bufio.NewReader(conn).ReadString('\n')
	elapsed := time.Since(start)

	details := func(o *Outcome) *Outcome {
		return o.
			WithDetail("hostname", hostname).
			WithDetail("port", port).
			WithDetail("greeting", strings.TrimSpace(greeting)).
			WithDetail("elapsed_ms", elapsed.Milliseconds())
	}

	if err != nil {
		return details(FailureOutcome(fmt.Sprintf("failed to read %s greeting: %v", protocol, err))), nil
	}

	if !strings.HasPrefix(greeting, wantPrefix) {
		return details(FailureOutcome(fmt.Sprintf("unexpected %s greeting: %s", protocol, strings.TrimSpace(greeting)))), nil
	}

	fmt.Fprint(conn, farewell)

	return details(SuccessOutcome(fmt.Sprintf("%s server ready in %dms", protocol, elapsed.Milliseconds()))), nil
}
