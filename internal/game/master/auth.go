package master

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/player"
	"github.com/cory-johannsen/arena/internal/identity"
	"github.com/cory-johannsen/arena/internal/protocol"
)

// Client-facing auth messages. Wrong-password and unknown-account responses
// are distinct on purpose; neither leaks anything beyond its own text.
const (
	msgInternalError   = "an internal error occurred, please try again"
	msgSessionExpired  = "session expired, please log in again"
	msgAccountBlocked  = "this account has been blocked"
	msgWrongPassword   = "wrong password"
	msgRegisterFirst   = "no account for that email, please register first"
	msgAlreadyLoggedIn = "already logged in"
)

func unmarshalPayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(raw, v)
}

// handleLogin resolves a login request over one of two mutually exclusive
// paths. A payload carrying a session token never falls back to the password
// path. Returns the player now bound to the connection (the revived stale
// player when the login respawned).
func (m *Master) handleLogin(ctx context.Context, p *player.Player, raw []byte) *player.Player {
	if p.Authenticated() {
		p.Send(protocol.TypeError, protocol.Notice{Message: msgAlreadyLoggedIn}, true)
		return p
	}

	var req protocol.LoginRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		p.Send(protocol.TypeError, protocol.Notice{Message: "malformed login payload"}, true)
		return p
	}

	if req.Session != "" {
		return m.loginWithSession(ctx, p, req)
	}
	return m.loginWithPassword(ctx, p, req)
}

func (m *Master) loginWithSession(ctx context.Context, p *player.Player, req protocol.LoginRequest) *player.Player {
	start := time.Now()
	key, acct, err := m.store.FindBySession(ctx, req.Session)
	switch {
	case errors.Is(err, identity.ErrAccountNotFound):
		p.Send(protocol.TypeWarning, protocol.Notice{Message: msgSessionExpired}, true)
		return p
	case err != nil:
		m.logger.Error("session lookup failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return p
	}

	if !identity.SessionValid(acct.Session, time.Now()) {
		p.Send(protocol.TypeWarning, protocol.Notice{Message: msgSessionExpired}, true)
		return p
	}
	if acct.IsBlocked {
		p.Send(protocol.TypeWarning, protocol.Notice{Message: msgAccountBlocked}, true)
		return p
	}

	return m.finishLogin(p, key, acct.Name, req.Session, req.Queue)
}

func (m *Master) loginWithPassword(ctx context.Context, p *player.Player, req protocol.LoginRequest) *player.Player {
	key := identity.DirectoryKey(req.Email)

	start := time.Now()
	acct, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, identity.ErrAccountNotFound):
		p.Send(protocol.TypeError, protocol.Notice{Message: msgRegisterFirst}, true)
		return p
	case err != nil:
		m.logger.Error("account lookup failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return p
	}

	if !identity.CheckPassword(req.Password, acct.Pass) {
		p.Send(protocol.TypeError, protocol.Notice{Message: msgWrongPassword}, true)
		return p
	}
	if acct.IsBlocked {
		p.Send(protocol.TypeWarning, protocol.Notice{Message: msgAccountBlocked}, true)
		return p
	}

	// Password logins mint a fresh session for later token reconnects.
	session, err := identity.NewSessionToken(m.cfg.TokenLifetime)
	if err != nil {
		m.logger.Error("minting session token", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return p
	}
	if err := m.store.Update(ctx, key, func(a *identity.Account) {
		a.Session = session
	}); err != nil {
		m.logger.Error("persisting session token", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return p
	}

	return m.finishLogin(p, key, acct.Name, session, req.Queue)
}

// finishLogin completes authentication respawn-or-fresh.
func (m *Master) finishLogin(p *player.Player, key, name, session string, queue *protocol.SearchRequest) *player.Player {
	if survivor, ok := m.tryRespawn(p, key); ok {
		m.postAuth(survivor, name, key, session, queue, true)
		return survivor
	}
	m.evictActiveRef(key, p)
	m.postAuth(p, name, key, session, queue, false)
	return p
}

// postAuth finalizes authentication: the identity is bound, the client told
// of success, presence announced, and any matchmaking request that rode in
// with the login payload forwarded to the lobby.
func (m *Master) postAuth(p *player.Player, name, key, session string, queue *protocol.SearchRequest, respawned bool) {
	p.Authenticate(name, key)
	p.Send(protocol.TypeLoginSuccess, protocol.LoginResult{
		Name:      name,
		PlayerID:  p.ID(),
		Session:   session,
		Respawned: respawned,
	}, false)
	m.setStatus(p, player.StatusIdle)

	m.logger.Info("player authenticated",
		zap.Uint64("player_id", p.ID()),
		zap.String("name", name),
		zap.Bool("respawned", respawned),
	)

	if queue != nil {
		m.search(p, *queue)
	}
}

// handleRegister creates a new account. Registration is gated by the single
// rotating access code; a consumed code is rotated away so it cannot be
// reused. New accounts are authenticated immediately and never respawn.
func (m *Master) handleRegister(ctx context.Context, p *player.Player, raw []byte) {
	if p.Authenticated() {
		p.Send(protocol.TypeError, protocol.Notice{Message: msgAlreadyLoggedIn}, true)
		return
	}

	var req protocol.RegisterRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		p.Send(protocol.TypeError, protocol.Notice{Message: "malformed register payload"}, true)
		return
	}

	code, err := m.store.AccessCode(ctx)
	if err != nil {
		m.logger.Error("reading access code", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return
	}
	if req.AccessCode != code {
		p.Send(protocol.TypeError, protocol.Notice{Message: "invalid access code"}, true)
		return
	}

	if !identity.ValidName(req.Name) {
		p.Send(protocol.TypeError,
			protocol.Notice{Message: "name must be 4-20 characters"}, true)
		return
	}
	if !identity.ValidEmail(req.Email) {
		p.Send(protocol.TypeError,
			protocol.Notice{Message: "email address is not valid"}, true)
		return
	}
	if !identity.ValidPassword(req.Password) {
		p.Send(protocol.TypeError,
			protocol.Notice{Message: "password must be at least 8 characters and mix letters, digits and a special character"}, true)
		return
	}

	key := identity.DirectoryKey(req.Email)
	_, err = m.store.Get(ctx, key)
	if err == nil {
		p.Send(protocol.TypeError,
			protocol.Notice{Message: "an account already exists for that email"}, true)
		return
	}
	if !errors.Is(err, identity.ErrAccountNotFound) {
		m.logger.Error("checking for duplicate account", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		m.logger.Error("hashing password", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return
	}
	session, err := identity.NewSessionToken(m.cfg.TokenLifetime)
	if err != nil {
		m.logger.Error("minting session token", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return
	}

	name := strings.TrimSpace(req.Name)
	acct := identity.Account{
		Pass:      hash,
		Email:     identity.NormalizeEmail(req.Email),
		Name:      name,
		IsBlocked: false,
		Session:   session,
	}
	if err := m.store.Set(ctx, key, acct); err != nil {
		m.logger.Error("writing new account", zap.Error(err))
		p.Send(protocol.TypeError, protocol.Notice{Message: msgInternalError}, true)
		return
	}

	if _, err := m.store.RotateAccessCode(ctx); err != nil {
		// The account exists; a stuck code is an operator problem, not the
		// client's.
		m.logger.Error("rotating access code", zap.Error(err))
	}

	m.logger.Info("account registered",
		zap.String("name", name),
		zap.String("email", acct.Email),
	)
	m.postAuth(p, name, key, session, nil, false)
}

// handleLogout persists an invalidated session marker, then tears the
// connection down as an explicit disconnection: no stale entry is created.
func (m *Master) handleLogout(ctx context.Context, p *player.Player) {
	if !p.Authenticated() {
		p.Send(protocol.TypeError, protocol.Notice{Message: "not logged in"}, true)
		return
	}

	key := p.Ref()
	if err := m.store.Update(ctx, key, func(a *identity.Account) {
		a.Session = identity.InvalidSession
	}); err != nil {
		// Teardown proceeds either way; the janitor or next login settles
		// the stored session.
		m.logger.Warn("persisting logout", zap.String("key", key), zap.Error(err))
	}

	p.Send(protocol.TypeGoodbye, protocol.Notice{Message: "goodbye"}, true)
	name := p.Name()
	m.teardown(p)
	m.logger.Info("player logged out", zap.String("name", name))
}
