package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"jenn_worker/pkg/apperr"
	"jenn_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthConfig configures bearer token verification. HS256 tokens use Secret; ES256/RS256 tokens
// are checked against the JWKS document at JWKSURL.
type AuthConfig struct {
	Secret     string
	JWKSURL    string
	HTTPClient *http.Client
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// keySet caches a JWKS document for ttl.
type keySet struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu        sync.RWMutex
	keys      map[string]JWK
	fetchedAt time.Time
}

func (s *keySet) get(ctx context.Context, kid string) (JWK, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fresh := time.Since(s.fetchedAt) < s.ttl
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := s.refresh(ctx); err != nil {
		return JWK{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return JWK{}, fmt.Errorf("key not found: %s", kid)
}

func (s *keySet) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	var doc struct {
		Keys []JWK `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]JWK, len(doc.Keys))
	for _, k := range doc.Keys {
		keys[k.Kid] = k
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	logger.Info("JWKS refreshed, %d keys loaded", len(keys))
	return nil
}

func b64Int(s string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// publicKey converts an EC or RSA JWK.
func (k JWK) publicKey() (any, error) {
	switch k.Kty {
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve: %s", k.Crv)
		}
		x, err := b64Int(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode x: %w", err)
		}
		y, err := b64Int(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	case "RSA":
		n, err := b64Int(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode n: %w", err)
		}
		e, err := b64Int(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode e: %w", err)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	}
	return nil, fmt.Errorf("unsupported key type: %s", k.Kty)
}

// =============================================================================
// Authenticator
// =============================================================================

// Principal is the verified caller.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

var (
	errMissingToken = errors.New("missing authorization")
	errInvalidToken = errors.New("invalid token")
)

type Authenticator struct {
	secret []byte
	keys   *keySet
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	a := &Authenticator{secret: []byte(cfg.Secret)}
	if cfg.JWKSURL != "" {
		client := cfg.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		a.keys = &keySet{url: cfg.JWKSURL, client: client, ttl: 10 * time.Minute}
	}
	return a
}

// Verify parses and validates a bearer token.
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, errMissingToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(a.secret) == 0 {
				return nil, errors.New("JWT secret not configured")
			}
			return a.secret, nil
		case *jwt.SigningMethodECDSA, *jwt.SigningMethodRSA:
			if a.keys == nil {
				return nil, errors.New("JWKS not configured")
			}
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid in token header")
			}
			key, err := a.keys.get(ctx, kid)
			if err != nil {
				return nil, err
			}
			return key.publicKey()
		default:
			return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
		}
	}, jwt.WithExpirationRequired(), jwt.WithLeeway(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing user id", errInvalidToken)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id format", errInvalidToken)
	}

	email, _ := claims["email"].(string)
	return &Principal{UserID: userID, Email: email}, nil
}

// Handler rejects requests without a valid bearer token and stores user_id / user_email locals.
func (a *Authenticator) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		var tokenString string
		if scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " "); ok && strings.EqualFold(scheme, "Bearer") {
			tokenString = strings.TrimSpace(token)
		}

		principal, err := a.Verify(c.UserContext(), tokenString)
		if err != nil {
			logger.WithError(err).WithField("path", c.Path()).Debug("[Auth] rejected request")
			appErr := apperr.InvalidToken("invalid or expired token")
			if errors.Is(err, errMissingToken) {
				appErr = apperr.Unauthorized("missing bearer token")
			}
			return c.Status(appErr.Status).JSON(newErrorResponse(c, ErrorDetail{Code: appErr.Code, Message: appErr.Message}))
		}

		c.Locals("user_id", principal.UserID)
		c.Locals("user_email", principal.Email)
		c.SetUserContext(logger.ContextWithAccount(c.UserContext(), principal.Email))
		return c.Next()
	}
}
