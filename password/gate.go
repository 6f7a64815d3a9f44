// Package password - one-way password hashing for password gated notes
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPassword the raw password can not be hashed
var ErrInvalidPassword = errors.New("invalid password")

// MaxPasswordBytes bcrypt only considers this many bytes of input
const MaxPasswordBytes = 72

// Gate hashes and verifies note passwords
type Gate interface {
	/*
		Hash one-way hash a raw password

			@param raw string - the raw password, must not be empty
			@returns the hash
	*/
	Hash(raw string) (string, error)

	/*
		Verify check a raw password against a stored hash

			@param raw string - the raw password
			@param hash string - the stored hash
			@returns whether they match; a malformed hash never matches
	*/
	Verify(raw string, hash string) bool
}

// bcryptGate implements Gate
type bcryptGate struct {
	cost int
}

/*
NewBcryptGate define a bcrypt backed password gate

	@param cost int - bcrypt work factor; zero selects bcrypt.DefaultCost
	@returns gate instance
*/
func NewBcryptGate(cost int) (Gate, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf(
			"bcrypt cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost,
		)
	}
	return &bcryptGate{cost: cost}, nil
}

func (g *bcryptGate) Hash(raw string) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty password [%w]", ErrInvalidPassword)
	}
	if len(raw) > MaxPasswordBytes {
		return "", fmt.Errorf(
			"password longer than %d bytes [%w]", MaxPasswordBytes, ErrInvalidPassword,
		)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), g.cost)
	if err != nil {
		return "", fmt.Errorf("password hash failed [%w]", err)
	}
	return string(hashed), nil
}

func (g *bcryptGate) Verify(raw string, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
