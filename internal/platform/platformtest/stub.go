// Package platformtest provides a scriptable platform.Client for tests.
package platformtest

import (
	"context"
	"sync"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/platform"
)

type SendCall struct {
	UserID string
	Text   string
}

// Client is a platform.Client whose behavior is set through the *Func fields.
// Unset funcs succeed with zero values.
type Client struct {
	LoginFunc           func(ctx context.Context, password, code string) (platform.LoginResult, error)
	VerifyChallengeFunc func(ctx context.Context, code string) (platform.LoginResult, error)
	ListConnectionsFunc func(ctx context.Context, dir platform.Direction, target string, max int, notify platform.Notify) ([]model.User, error)
	SendFunc            func(ctx context.Context, userID, text string) error
	CurrentUserFunc     func(ctx context.Context) (model.User, error)

	mu    sync.Mutex
	sends []SendCall
}

func (c *Client) Login(ctx context.Context, password, code string) (platform.LoginResult, error) {
	if c.LoginFunc != nil {
		return c.LoginFunc(ctx, password, code)
	}
	return platform.LoginResult{Succeeded: true}, nil
}

func (c *Client) VerifyChallenge(ctx context.Context, code string) (platform.LoginResult, error) {
	if c.VerifyChallengeFunc != nil {
		return c.VerifyChallengeFunc(ctx, code)
	}
	return platform.LoginResult{Succeeded: true}, nil
}

func (c *Client) ListConnections(ctx context.Context, dir platform.Direction, target string, max int, notify platform.Notify) ([]model.User, error) {
	if c.ListConnectionsFunc != nil {
		return c.ListConnectionsFunc(ctx, dir, target, max, notify)
	}
	return nil, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID, text string) error {
	c.mu.Lock()
	c.sends = append(c.sends, SendCall{UserID: userID, Text: text})
	c.mu.Unlock()
	if c.SendFunc != nil {
		return c.SendFunc(ctx, userID, text)
	}
	return nil
}

func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	if c.CurrentUserFunc != nil {
		return c.CurrentUserFunc(ctx)
	}
	return model.User{}, nil
}

// Sends returns a copy of every SendDirectMessage call, in call order.
func (c *Client) Sends() []SendCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SendCall, len(c.sends))
	copy(out, c.sends)
	return out
}

var _ platform.Client = (*Client)(nil)
