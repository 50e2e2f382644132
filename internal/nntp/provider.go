package nntp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/datallboy/nzbleecher/internal/domain"
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 60 * time.Second
)

// conn is one authenticated NNTP session.
type conn struct {
	raw   net.Conn
	text  *textproto.Conn
	group string
}

func (c *conn) close() {
	// QUIT lets the server release the slot immediately
	_ = c.raw.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = c.text.Cmd("QUIT")
	_ = c.text.Close()
}

// Provider is a server pool: up to MaxConnection sessions to one news server.
type Provider struct {
	conf domain.ProviderConfig

	// slots bounds concurrent sessions, idle holds reusable ones
	slots chan struct{}
	idle  chan *conn
}

var _ domain.Provider = (*Provider)(nil)

func NewProvider(conf domain.ProviderConfig) *Provider {
	if conf.MaxConnection <= 0 {
		conf.MaxConnection = 1
	}
	return &Provider{
		conf:  conf,
		slots: make(chan struct{}, conf.MaxConnection),
		idle:  make(chan *conn, conf.MaxConnection),
	}
}

// Interface implementation: ID
func (p *Provider) ID() string { return p.conf.ID }

// Interface implementation: Priority
func (p *Provider) Priority() int { return p.conf.Priority }

// Interface implementation: MaxConnection
func (p *Provider) MaxConnection() int { return p.conf.MaxConnection }

// Fetch streams the body of msgID. It blocks while every session of the pool
// is busy. A 430 response returns domain.ErrArticleNotFound.
//
// The returned reader holds a session until it is closed.
func (p *Provider) Fetch(ctx context.Context, msgID string, groups []string) (io.ReadCloser, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c, reused, err := p.acquire(ctx)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("connection to %s failed: %w", p.conf.ID, err)
	}

	body, err := p.body(c, msgID, groups)
	if err != nil && reused && !errors.Is(err, domain.ErrArticleNotFound) {
		// the server may have dropped the idle session
		c.close()
		if c, err = p.dial(ctx); err != nil {
			<-p.slots
			return nil, fmt.Errorf("connection to %s failed: %w", p.conf.ID, err)
		}
		body, err = p.body(c, msgID, groups)
	}
	if err != nil {
		if errors.Is(err, domain.ErrArticleNotFound) {
			p.release(c)
		} else {
			c.close()
			<-p.slots
		}
		return nil, err
	}

	return &releaseReader{
		Reader: body,
		touch: func() {
			_ = c.raw.SetDeadline(time.Now().Add(commandTimeout))
		},
		onClose: func(drained bool) {
			if drained {
				p.release(c)
				return
			}
			c.close()
			<-p.slots
		},
	}, nil
}

func (p *Provider) body(c *conn, msgID string, groups []string) (io.Reader, error) {
	formattedID := strings.TrimSuffix(strings.TrimPrefix(msgID, "<"), ">")
	_ = c.raw.SetDeadline(time.Now().Add(commandTimeout))

	code, msg, err := p.cmd(c, 222, "BODY <%s>", formattedID)
	if err == nil {
		return c.text.DotReader(), nil
	}

	// 412: some servers want a group selected first
	if code == 412 && len(groups) > 0 && c.group != groups[0] {
		if _, _, err := p.cmd(c, 211, "GROUP %s", groups[0]); err != nil {
			return nil, err
		}
		c.group = groups[0]
		return p.body(c, msgID, nil)
	}

	if code == 430 || code == 423 {
		return nil, fmt.Errorf("%w: %s on %s (%s)", domain.ErrArticleNotFound, msgID, p.conf.ID, msg)
	}
	return nil, err
}

func (p *Provider) cmd(c *conn, expect int, format string, args ...any) (int, string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	code, msg, err := c.text.ReadCodeLine(expect)
	return code, msg, err
}

// acquire returns an idle session or dials a new one. The caller holds a slot.
func (p *Provider) acquire(ctx context.Context) (*conn, bool, error) {
	select {
	case c := <-p.idle:
		return c, true, nil
	default:
	}
	c, err := p.dial(ctx)
	return c, false, err
}

// release hands a healthy session back and frees its slot.
func (p *Provider) release(c *conn) {
	select {
	case p.idle <- c:
	default:
		c.close()
	}
	<-p.slots
}

func (p *Provider) dial(ctx context.Context) (*conn, error) {
	addr := net.JoinHostPort(p.conf.Host, strconv.Itoa(p.conf.Port))

	var raw net.Conn
	var err error
	if p.conf.TLS {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: dialTimeout},
			Config: &tls.Config{
				ServerName: p.conf.Host,
				MinVersion: tls.VersionTLS12,
			},
		}
		raw, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &net.Dialer{Timeout: dialTimeout}
		raw, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	c := &conn{raw: raw, text: textproto.NewConn(raw)}
	_ = raw.SetDeadline(time.Now().Add(commandTimeout))

	// 200 posting allowed, 201 posting prohibited: both fine for downloading
	code, msg, err := c.text.ReadCodeLine(2)
	if err != nil || (code != 200 && code != 201) {
		c.close()
		if err == nil {
			err = fmt.Errorf("unexpected greeting %d %s", code, msg)
		}
		return nil, err
	}

	if err := p.authenticate(c); err != nil {
		c.close()
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return c, nil
}

func (p *Provider) authenticate(c *conn) error {
	if p.conf.Username == "" {
		return nil
	}

	if _, _, err := p.cmd(c, 381, "AUTHINFO USER %s", p.conf.Username); err != nil {
		return err
	}
	_, _, err := p.cmd(c, 281, "AUTHINFO PASS %s", p.conf.Password)
	return err
}

// TestConnection dials and authenticates one session and keeps it idle.
func (p *Provider) TestConnection(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	c, _, err := p.acquire(ctx)
	if err != nil {
		<-p.slots
		return err
	}
	p.release(c)
	return nil
}

// Close ends every idle session.
func (p *Provider) Close() error {
	for {
		select {
		case c := <-p.idle:
			c.close()
		default:
			return nil
		}
	}
}

// releaseReader gives the session back once the body has been read to the
// terminating dot. A session that fails while draining is dropped.
type releaseReader struct {
	io.Reader
	touch   func()
	onClose func(drained bool)
}

func (r *releaseReader) Read(p []byte) (int, error) {
	if r.touch != nil {
		r.touch()
	}
	return r.Reader.Read(p)
}

func (r *releaseReader) Close() error {
	if r.onClose == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, r)
	r.onClose(err == nil)
	r.onClose = nil
	return nil
}
