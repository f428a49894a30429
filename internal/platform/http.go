package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/delay"
	"github.com/jmehdipour/dm-dispatcher/internal/metrics"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"go.uber.org/zap"
)

type HTTPOptions struct {
	BaseURL       string
	Timeout       time.Duration
	PageDelayMin  time.Duration
	PageDelayMax  time.Duration
	FailThreshold int
	OpenFor       time.Duration
	Log           *zap.Logger
}

// HTTPClient talks JSON to the platform gateway on behalf of one account.
type HTTPClient struct {
	identity string
	baseURL  string
	client   *http.Client
	br       *Breaker
	log      *zap.Logger

	pageDelayMin time.Duration
	pageDelayMax time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	token string
}

func NewHTTPClient(identity string, opts HTTPOptions) *HTTPClient {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.PageDelayMax < opts.PageDelayMin {
		opts.PageDelayMax = opts.PageDelayMin
	}

	return &HTTPClient{
		identity:     identity,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		client:       &http.Client{Timeout: opts.Timeout},
		br:           NewBreaker(opts.FailThreshold, opts.OpenFor),
		log:          opts.Log.With(zap.String("identity", identity)),
		pageDelayMin: opts.PageDelayMin,
		pageDelayMax: opts.PageDelayMax,
		sleep:        sleepCtx,
	}
}

// NewHTTPFactory returns a Factory producing gateway-backed clients.
func NewHTTPFactory(opts HTTPOptions) Factory {
	return func(identity string) Client {
		return NewHTTPClient(identity, opts)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---- wire types ----

type gatewayUser struct {
	PK            json.Number `json:"pk"`
	Username      string      `json:"username"`
	FullName      string      `json:"full_name"`
	ProfilePicURL string      `json:"profile_pic_url"`
}

func (u gatewayUser) toModel() model.User {
	return model.User{
		ID:         model.UserID(u.PK.String()),
		Username:   u.Username,
		FullName:   u.FullName,
		ProfilePic: u.ProfilePicURL,
	}
}

type loginResponse struct {
	Token             string      `json:"token"`
	ChallengeRequired bool        `json:"challenge_required"`
	Error             string      `json:"error"`
	User              gatewayUser `json:"user"`
}

type userResponse struct {
	User gatewayUser `json:"user"`
}

type pageResponse struct {
	Users         []gatewayUser `json:"users"`
	NextCursor    string        `json:"next_cursor"`
	MoreAvailable bool          `json:"more_available"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusError is a non-2xx gateway answer.
type StatusError struct {
	Op     string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("platform %s: status=%d", e.Op, e.Status)
	}
	return fmt.Sprintf("platform %s: status=%d: %s", e.Op, e.Status, e.Detail)
}

// retryable reports whether err says something about gateway health rather
// than about a single recipient.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return err != nil
}

// ---- Client ----

func (c *HTTPClient) Login(ctx context.Context, password, challengeCode string) (LoginResult, error) {
	body := map[string]string{
		"username": c.identity,
		"password": password,
	}
	if challengeCode != "" {
		body["two_factor_code"] = challengeCode
	}
	return c.authenticate(ctx, "login", "/login", body)
}

func (c *HTTPClient) VerifyChallenge(ctx context.Context, code string) (LoginResult, error) {
	return c.authenticate(ctx, "challenge", "/challenge", map[string]string{
		"username": c.identity,
		"code":     code,
	})
}

func (c *HTTPClient) authenticate(ctx context.Context, op, path string, body any) (LoginResult, error) {
	var res loginResponse
	err := c.do(ctx, op, http.MethodPost, path, body, &res)
	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) {
			return LoginResult{}, err
		}
		// the gateway answers 4xx for rejected credentials and pending challenges
		if res.ChallengeRequired {
			c.setToken(res.Token)
			return LoginResult{RequiresChallenge: true, Error: se.Detail}, nil
		}
		return LoginResult{Error: se.Detail}, nil
	}

	if res.ChallengeRequired {
		c.setToken(res.Token)
		return LoginResult{RequiresChallenge: true}, nil
	}
	if res.Token == "" {
		return LoginResult{Error: "gateway returned no session token"}, nil
	}
	c.setToken(res.Token)
	return LoginResult{Succeeded: true, User: res.User.toModel()}, nil
}

func (c *HTTPClient) ListConnections(ctx context.Context, dir Direction, target string, max int, notify Notify) ([]model.User, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("platform: invalid direction %q", dir)
	}
	if max <= 0 {
		max = 1000
	}

	var owner userResponse
	if err := c.do(ctx, "search", http.MethodGet, "/users/"+url.PathEscape(target), nil, &owner); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
		}
		return nil, err
	}

	notify.emit(fmt.Sprintf("Found account: %s (%s)", owner.User.Username, owner.User.FullName))
	if dir == Followers {
		notify.emit("Extracting followers (this may take some time)...")
	} else {
		notify.emit("Extracting accounts they follow (this may take some time)...")
	}

	users := make([]model.User, 0, min(max, 200))
	cursor := ""
	for len(users) < max {
		q := url.Values{}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		path := "/users/" + url.PathEscape(owner.User.PK.String()) + "/" + dir.String()
		if enc := q.Encode(); enc != "" {
			path += "?" + enc
		}

		var page pageResponse
		if err := c.do(ctx, dir.String(), http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			users = append(users, u.toModel())
		}
		notify.emit(fmt.Sprintf("Extracted %d %s so far...", len(users), dir))

		if !page.MoreAvailable || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor

		if err := c.sleep(ctx, delay.Between(c.pageDelayMin, c.pageDelayMax)); err != nil {
			return nil, err
		}
	}

	if len(users) > max {
		users = users[:max]
	}
	notify.emit(fmt.Sprintf("Completed! Extracted %d %s.", len(users), dir))
	return users, nil
}

func (c *HTTPClient) SendDirectMessage(ctx context.Context, userID, text string) error {
	if !c.br.TryAcquire() {
		metrics.PlatformRequests.WithLabelValues("send", "breaker_open").Inc()
		return ErrBreakerOpen
	}

	err := c.do(ctx, "send", http.MethodPost, "/direct/send", map[string]string{
		"user_id": userID,
		"text":    text,
	}, nil)
	if retryable(err) {
		c.br.OnFailure()
		c.log.Warn("send failed", zap.String("user_id", userID), zap.String("breaker", c.br.State()), zap.Error(err))
		return err
	}

	c.br.OnSuccess()
	return err
}

func (c *HTTPClient) CurrentUser(ctx context.Context) (model.User, error) {
	var res userResponse
	if err := c.do(ctx, "me", http.MethodGet, "/me", nil, &res); err != nil {
		return model.User{}, err
	}
	return res.User.toModel(), nil
}

func (c *HTTPClient) setToken(t string) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *HTTPClient) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do performs one JSON round trip. out is decoded on 2xx and, best effort, on
// error statuses so callers can read flags like challenge_required.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("platform %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Account", c.identity)

	needsAuth := op != "login" && op != "challenge"
	if tok := c.getToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else if needsAuth {
		return ErrNotLoggedIn
	}

	res, err := c.client.Do(req)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("platform %s: %w", op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("platform %s: read body: %w", op, err)
	}

	if res.StatusCode/100 != 2 {
		metrics.PlatformRequests.WithLabelValues(op, "error").Inc()
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		detail := er.Error
		if detail == "" {
			detail = strings.TrimSpace(http.StatusText(res.StatusCode))
		}
		return &StatusError{Op: op, Status: res.StatusCode, Detail: detail}
	}

	metrics.PlatformRequests.WithLabelValues(op, "ok").Inc()
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("platform %s: decode: %w", op, err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
