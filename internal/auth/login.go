package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"
)

var (
	ErrAgentNotFound = errors.New("auth: agent not found")
	// ErrInvalidCredentials deliberately covers both unknown email and
	// wrong token so responses do not leak which one failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Agent is a dashboard user.
type Agent struct {
	ID        string `json:"id" db:"id"`
	Email     string `json:"email" db:"email"`
	FullName  string `json:"full_name" db:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty" db:"avatar_url"`
	Role      string `json:"role" db:"role"`

	// APIToken is the seeded login credential. Never serialized.
	APIToken string `json:"-" db:"api_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AgentStore interface {
	GetAgentByEmail(ctx context.Context, email string) (Agent, error)
	GetAgent(ctx context.Context, id string) (Agent, error)
}

// LoginService exchanges agent credentials for a token pair.
type LoginService struct {
	agents AgentStore
	tokens *Manager
	clock  func() time.Time
}

func NewLoginService(agents AgentStore, tokens *Manager) *LoginService {
	return &LoginService{agents: agents, tokens: tokens, clock: time.Now}
}

// Login validates the seeded API token with a constant-time compare and
// issues an access/refresh pair.
func (s *LoginService) Login(ctx context.Context, email, apiToken string) (TokenPair, Agent, error) {
	if email == "" || apiToken == "" {
		return TokenPair{}, Agent{}, ErrInvalidCredentials
	}

	agent, err := s.agents.GetAgentByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return TokenPair{}, Agent{}, ErrInvalidCredentials
		}
		return TokenPair{}, Agent{}, err
	}

	if agent.APIToken == "" || subtle.ConstantTimeCompare([]byte(apiToken), []byte(agent.APIToken)) != 1 {
		return TokenPair{}, Agent{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(s.clock().UTC(), agent.ID, agent.Role)
	if err != nil {
		return TokenPair{}, Agent{}, err
	}
	return pair, agent, nil
}

// Refresh exchanges a valid refresh token for a new pair. The agent's
// current role is re-read so role changes take effect on rotation.
func (s *LoginService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	now := s.clock().UTC()
	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, ErrInvalidCredentials
	}

	agent, err := s.agents.GetAgent(ctx, claims.AgentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}

	return s.tokens.IssuePair(now, agent.ID, agent.Role)
}
