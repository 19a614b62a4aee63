package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	challengePrefix = "#CHALLENGE#"
	welcomeMsg      = "#WELCOME#"
	failureMsg      = "#FAILURE#"
	challengeSize   = 20
)

// DefaultHandshakeTimeout bounds the authentication exchange.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrAuthFailed reports a rejected or malformed handshake.
var ErrAuthFailed = errors.New("authentication failed")

func digest(key, challenge []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// ServerHandshake challenges the peer to prove it holds key.
// An empty key accepts every peer without an exchange.
func ServerHandshake(c *Conn, key []byte, timeout time.Duration) error {
	if len(key) == 0 {
		return nil
	}
	if timeout > 0 {
		c.SetDeadline(time.Now().Add(timeout))
		defer c.SetDeadline(time.Time{})
	}

	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("generating challenge: %w", err)
	}
	if err := c.SendBytes(append([]byte(challengePrefix), challenge...)); err != nil {
		return fmt.Errorf("sending challenge: %w", err)
	}

	resp, err := c.Recv()
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrAuthFailed, err)
	}
	if !hmac.Equal(resp, digest(key, challenge)) {
		_ = c.Send(failureMsg)
		return fmt.Errorf("%w: digest mismatch", ErrAuthFailed)
	}
	return c.Send(welcomeMsg)
}

// ClientHandshake answers a server challenge with key.
func ClientHandshake(c *Conn, key []byte) error {
	if len(key) == 0 {
		return nil
	}

	msg, err := c.Recv()
	if err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	challenge, ok := bytes.CutPrefix(msg, []byte(challengePrefix))
	if !ok {
		return fmt.Errorf("%w: unexpected greeting %q", ErrAuthFailed, msg)
	}
	if err := c.SendBytes(digest(key, challenge)); err != nil {
		return fmt.Errorf("sending response: %w", err)
	}

	verdict, err := c.Recv()
	if err != nil {
		return fmt.Errorf("%w: reading verdict: %w", ErrAuthFailed, err)
	}
	if string(verdict) != welcomeMsg {
		return ErrAuthFailed
	}
	return nil
}

// Dial connects to a replay server and authenticates with key.
func Dial(ctx context.Context, addr string, key []byte) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := NewConn(nc)
	if deadline, ok := ctx.Deadline(); ok {
		c.SetDeadline(deadline)
	} else {
		c.SetDeadline(time.Now().Add(DefaultHandshakeTimeout))
	}
	if err := ClientHandshake(c, key); err != nil {
		c.Close()
		return nil, err
	}
	c.SetDeadline(time.Time{})
	return c, nil
}
