package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

const agentColumns = `
id, email, full_name, COALESCE(avatar_url, ''), role, COALESCE(api_token, ''),
created_at, updated_at
`

// PostgresAgentStore reads agents from Postgres.
type PostgresAgentStore struct {
	db *sql.DB
}

func NewPostgresAgentStore(db *sql.DB) *PostgresAgentStore {
	return &PostgresAgentStore{db: db}
}

func (s *PostgresAgentStore) GetAgentByEmail(ctx context.Context, email string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE lower(email) = lower($1)`
	return s.scanAgent(s.db.QueryRowContext(ctx, q, email))
}

func (s *PostgresAgentStore) GetAgent(ctx context.Context, id string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return s.scanAgent(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresAgentStore) scanAgent(row *sql.Row) (Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.Email, &a.FullName, &a.AvatarURL, &a.Role, &a.APIToken,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}

// MemoryAgentStore is an in-memory AgentStore for tests.
type MemoryAgentStore struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: map[string]Agent{}}
}

func (s *MemoryAgentStore) Put(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

func (s *MemoryAgentStore) GetAgentByEmail(ctx context.Context, email string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return Agent{}, ErrAgentNotFound
}

func (s *MemoryAgentStore) GetAgent(ctx context.Context, id string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return a, nil
}
