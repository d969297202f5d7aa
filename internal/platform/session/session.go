package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

var (
	// ErrSessionNotFound is returned when no session exists for the token.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionExpired is returned when the session exists but its expiry has passed.
	ErrSessionExpired = errors.New("session: expired")
	// ErrInvalidSession is returned when a session cannot be stored or decoded.
	ErrInvalidSession = errors.New("session: invalid session")
)

// record is the stored JSON shape. It mirrors the login response the back office hands to the browser.
type record struct {
	UserID    int64      `json:"userId"`
	UserName  string     `json:"userName"`
	Branch    *branchRef `json:"branch,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt,omitempty"`
}

type branchRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

func encode(op domain.Operator) ([]byte, error) {
	if strings.TrimSpace(op.Token) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidSession)
	}
	rec := record{UserID: op.UserID, UserName: op.Username, ExpiresAt: op.ExpiresAt.UTC()}
	if op.BranchID > 0 {
		rec.Branch = &branchRef{ID: op.BranchID, Name: op.BranchName}
	}
	return json.Marshal(rec)
}

func decode(token string, raw []byte) (domain.Operator, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Operator{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	op := domain.Operator{
		Token:     token,
		UserID:    rec.UserID,
		Username:  rec.UserName,
		ExpiresAt: rec.ExpiresAt,
	}
	if rec.Branch != nil {
		op.BranchID = rec.Branch.ID
		op.BranchName = rec.Branch.Name
	}
	return op, nil
}

func checkExpiry(op domain.Operator, now time.Time) error {
	if !op.ExpiresAt.IsZero() && !now.Before(op.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

func normalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrSessionNotFound
	}
	return token, nil
}
