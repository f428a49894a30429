// Package platform is the boundary toward the social platform. The rest of the
// service only depends on Client; HTTPClient is the gateway-backed adapter.
package platform

import (
	"context"
	"errors"
	"strings"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
)

type Direction string

const (
	Followers Direction = "followers"
	Following Direction = "following"
)

func (d Direction) String() string { return string(d) }

func (d Direction) Valid() bool { return d == Followers || d == Following }

// ParseDirection normalizes input; empty => followers.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "followers":
		return Followers, true
	case "following":
		return Following, true
	default:
		return Followers, false
	}
}

var (
	ErrNotLoggedIn    = errors.New("platform: not logged in")
	ErrBreakerOpen    = errors.New("platform: circuit open, sends paused")
	ErrTargetNotFound = errors.New("platform: target account not found")
)

type LoginResult struct {
	Succeeded         bool       `json:"success"`
	RequiresChallenge bool       `json:"requiresChallenge"`
	Error             string     `json:"error,omitempty"`
	User              model.User `json:"user,omitzero"`
}

// Notify receives human readable progress lines from long running calls. May be nil.
type Notify func(msg string)

func (n Notify) emit(msg string) {
	if n != nil {
		n(msg)
	}
}

type Client interface {
	Login(ctx context.Context, password, challengeCode string) (LoginResult, error)
	VerifyChallenge(ctx context.Context, code string) (LoginResult, error)
	ListConnections(ctx context.Context, dir Direction, target string, max int, notify Notify) ([]model.User, error)
	SendDirectMessage(ctx context.Context, userID, text string) error
	CurrentUser(ctx context.Context) (model.User, error)
}

// Factory builds an unauthenticated client for one account identity.
type Factory func(identity string) Client
