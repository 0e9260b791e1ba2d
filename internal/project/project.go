// Package project groups a user's conversations and documents under a
// named workspace. The project also carries the system prompt injected
// into every exchange run within it.
package project

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a project does not exist or belongs
	// to a different user.
	ErrNotFound = errors.New("project: not found")
	// ErrEmptyName rejects projects with blank names.
	ErrEmptyName = errors.New("project: name is required")
)

// nameMaxRunes bounds project names.
const nameMaxRunes = 100

// Project is one user workspace.
type Project struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"llm_prompt"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Params carries the writable fields for create and update.
type Params struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"llm_prompt"`
}

// Validate normalizes and checks the params in place.
func (p *Params) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrEmptyName
	}
	if runes := []rune(p.Name); len(runes) > nameMaxRunes {
		p.Name = string(runes[:nameMaxRunes])
	}
	p.Description = strings.TrimSpace(p.Description)
	p.Prompt = strings.TrimSpace(p.Prompt)
	return nil
}
