package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	clockLeeway         = time.Minute
)

// AuthConfig selects which tokens the API accepts.
type AuthConfig struct {
	// Secret verifies the HS256 tokens issued by /api/auth.
	Secret []byte
	// Issuer, when set, must match the iss claim of HS256 tokens.
	Issuer string

	// JWKS, when set, additionally accepts RS256 tokens from an external
	// identity provider.
	JWKS         *keyfunc.JWKS
	JWKSAudience string
	JWKSIssuer   string
	JWKSCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser
	now    func() time.Time

	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. It panics when neither a secret nor a
// JWKS is configured.
func NewAuth(cfg AuthConfig) *Auth {
	methods := make([]string, 0, 2)
	if len(cfg.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.JWKS != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		panic("api.NewAuth: no token verification key configured")
	}
	ttl := cfg.JWKSCacheTTL
	if ttl == 0 {
		ttl = defaultJWKSCacheTTL
	}
	return &Auth{
		cfg: cfg,
		// Registered claims are checked below with leeway, the parser only
		// verifies the signature.
		parser:      jwt.NewParser(jwt.WithValidMethods(methods), jwt.WithoutClaimsValidation()),
		now:         time.Now,
		keyCacheTTL: ttl,
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a raw bearer token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}

	external := false
	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return a.cfg.Secret, nil
		case *jwt.SigningMethodRSA:
			external = true
			return a.keyForToken(t)
		default:
			return nil, errors.New("invalid signing method")
		}
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now.Add(-clockLeeway).Unix(), true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(clockLeeway).Unix(), false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(clockLeeway).Unix(), false) {
		return "", errors.New("token used before issued")
	}

	issuer := a.cfg.Issuer
	if external {
		issuer = a.cfg.JWKSIssuer
		if a.cfg.JWKSAudience != "" && !claims.VerifyAudience(a.cfg.JWKSAudience, true) {
			return "", errors.New("invalid audience")
		}
	}
	if issuer != "" && !claims.VerifyIssuer(issuer, true) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
