// Package auth turns bearer tokens into principals.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
)

// Verifier validates tokens. In dev mode a token is "user:team" and nothing is checked;
// in hmac mode it must be an HS256 JWT signed with Secret.
type Verifier struct {
	Mode   string
	Secret []byte
}

type Principal struct {
	UserID string
	TeamID string
}

func NewVerifier(mode, secret string) (*Verifier, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	switch mode {
	case ModeDev:
	case ModeHMAC:
		if strings.TrimSpace(secret) == "" {
			return nil, errors.New("auth: hmac mode needs a secret")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", mode)
	}
	return &Verifier{Mode: mode, Secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
	Team string `json:"team,omitempty"`
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == ModeDev {
		user, team, _ := strings.Cut(token, ":")
		if user == "" {
			return Principal{}, errors.New("invalid dev token; expected user:team")
		}
		return Principal{UserID: user, TeamID: team}, nil
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return v.Secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{UserID: c.Subject, TeamID: c.Team}, nil
}

// Sign issues an HS256 token. Used by the CLI and tests.
func (v *Verifier) Sign(userID, teamID string) (string, error) {
	if v.Mode != ModeHMAC {
		return userID + ":" + teamID, nil
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		Team:             teamID,
	})
	return tok.SignedString(v.Secret)
}
