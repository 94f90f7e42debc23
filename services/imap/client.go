package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/mailpilot/mailpilot/internal/enum"
	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/tracing"
)

// connectAccount establishes a connection to an account's IMAP server.
func (s *IMAPService) connectAccount(ctx context.Context, account *models.EmailAccount) (*client.Client, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.connectAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)
	span.SetTag("security", string(account.ImapSecurity))

	serverAddr := accountAddr(account)

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if account.ImapSecurity == enum.EmailSecurityTLS {
		tlsConfig := &tls.Config{
			ServerName: account.ImapServer,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}

	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}

	caps, err := c.Capability()
	if err != nil {
		c.Logout()

		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get capabilities: %w", err)
	}
	span.SetTag("server.capabilities", fmt.Sprintf("%v", caps))

	loginSpan := opentracing.StartSpan(
		"IMAPService.login",
		opentracing.ChildOf(span.Context()),
	)
	loginSpan.SetTag("username", account.Username)

	c.Timeout = 30 * time.Second

	err = c.Login(account.Username, account.Password)
	if err != nil {
		c.Logout()

		tracing.TraceErr(loginSpan, err)
		loginSpan.Finish()

		return nil, fmt.Errorf("failed to login as %s: %w", account.Username, err)
	}

	loginSpan.SetTag("success", true)
	loginSpan.Finish()

	span.SetTag("success", true)
	return c, nil
}

// getClient returns a healthy connection for the account, dialing a new one
// when none exists or the cached one fails its NOOP probe.
func (s *IMAPService) getClient(ctx context.Context, account *models.EmailAccount) (*client.Client, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.getClient")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	s.clientsMutex.RLock()
	c, exists := s.clients[account.ID]
	s.clientsMutex.RUnlock()

	if exists {
		if err := c.Noop(); err == nil {
			span.SetTag("reused", true)
			return c, nil
		}

		// Connection is broken, remove it
		s.clientsMutex.Lock()
		delete(s.clients, account.ID)
		s.clientsMutex.Unlock()
	}

	c, err := s.connectAccount(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.clientsMutex.Lock()
	s.clients[account.ID] = c
	s.clientsMutex.Unlock()

	return c, nil
}

// disconnectClient safely logs out and drops a cached connection.
func (s *IMAPService) disconnectClient(accountID string, c *client.Client) {
	span := opentracing.StartSpan("IMAPService.disconnectClient")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	if c == nil {
		return
	}

	logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.Timeout = 5 * time.Second

	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
		close(done)
	}()

	select {
	case err := <-done:
		if err != nil {
			tracing.TraceErr(span, err)
		}
	case <-logoutCtx.Done():
		span.SetTag("timeout", true)
	}

	s.clientsMutex.Lock()
	delete(s.clients, accountID)
	s.clientsMutex.Unlock()

	s.statusMutex.Lock()
	if status, ok := s.statuses[accountID]; ok {
		status.Connected = false
		s.statuses[accountID] = status
	}
	s.statusMutex.Unlock()
}

// disconnectAllClients drains the connection pool during shutdown.
func (s *IMAPService) disconnectAllClients() {
	s.clientsMutex.Lock()
	clients := make(map[string]*client.Client)
	for id, c := range s.clients {
		clients[id] = c
		delete(s.clients, id)
	}
	s.clientsMutex.Unlock()

	for id, c := range clients {
		s.disconnectClient(id, c)
	}
}
