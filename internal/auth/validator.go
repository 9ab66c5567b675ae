// Package auth verifies bearer credentials issued by the GetHome auth service.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gethome/companion/backend/internal/config"
)

var (
	// ErrUnauthenticated is the parent of every credential failure.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidToken covers malformed, mis-signed, expired or otherwise unverifiable tokens.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	// ErrMissingSubject means the token verified but carries no subject claim.
	ErrMissingSubject = fmt.Errorf("%w: token has no subject claim", ErrUnauthenticated)
)

// Identity is the subject claim of a verified token.
type Identity string

// Principal pairs a verified identity with the credential it was extracted from,
// so the credential can be forwarded to downstream services.
type Principal struct {
	Identity   Identity
	Credential string
}

// Validator verifies JWTs against a single configured algorithm and key.
type Validator struct {
	parser *jwt.Parser
	key    any
}

// NewValidator builds a Validator from the auth configuration.
func NewValidator(cfg config.AuthConfig) (*Validator, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	var (
		key any
		err error
	)
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if cfg.Secret == "" {
			return nil, errors.New("hmac algorithms require a secret")
		}
		key = []byte(cfg.Secret)
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		key, err = jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
	case *jwt.SigningMethodECDSA:
		key, err = jwt.ParseECPublicKeyFromPEM([]byte(cfg.PublicKey))
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return &Validator{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method.Alg()})),
		key:    key,
	}, nil
}

// Validate verifies the credential and returns its subject.
func (v *Validator) Validate(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", fmt.Errorf("%w: empty credential", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(credential, claims, v.keyFunc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingSubject, err)
	}
	if strings.TrimSpace(subject) == "" {
		return "", ErrMissingSubject
	}

	return Identity(subject), nil
}

func (v *Validator) keyFunc(*jwt.Token) (any, error) {
	return v.key, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
