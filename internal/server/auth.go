package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/felixgeelhaar/bolt/v3"
	"github.com/golang-jwt/jwt/v5"

	"mapline/internal/logging"
	"mapline/internal/repo"
)

const tokenIssuer = "mapline"

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader trusts X-Actor-Id without credentials. Local use only.
	AllowActorHeader bool
	Logger           *bolt.Logger
}

// CredentialSource tells how a caller proved who they are.
type CredentialSource string

const (
	SourceToken       CredentialSource = "jwt"
	SourceAPIKey      CredentialSource = "api_key"
	SourceActorHeader CredentialSource = "actor_header"
)

// Principal is the authenticated caller. Role and unit always come from the
// actor registry, never from the credential.
type Principal struct {
	ActorID string
	Source  CredentialSource
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// SignToken mints an HS256 token whose subject is the actor ID. A zero ttl
// means no expiry.
func SignToken(secret, actorID string, ttl time.Duration) (string, error) {
	switch {
	case strings.TrimSpace(secret) == "":
		return "", errors.New("jwt secret not configured")
	case strings.TrimSpace(actorID) == "":
		return "", errors.New("actor id required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{Subject: actorID, Issuer: tokenIssuer, IssuedAt: jwt.NewNumericDate(now)}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

var errNoCredentials = errors.New("authentication required")

// authenticator resolves the caller of one request. Precedence: bearer token,
// then API key, then the trusted actor header.
type authenticator struct {
	cfg  AuthConfig
	repo repo.Repo
	log  *bolt.Logger
}

func (a authenticator) identify(req *http.Request) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return Principal{}, errors.New("malformed authorization header")
		}
		return a.fromToken(strings.TrimSpace(token))
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		actor, err := a.repo.ActorByAPIKey(req.Context(), key)
		if err != nil {
			return Principal{}, err
		}
		return Principal{ActorID: actor.ID, Source: SourceAPIKey}, nil
	}
	if actorID := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actorID != "" && a.cfg.AllowActorHeader {
		logging.With(a.log.Warn(), logging.Actor(actorID)).Msg("trusting X-Actor-Id header without credentials")
		return Principal{ActorID: actorID, Source: SourceActorHeader}, nil
	}
	return Principal{}, errNoCredentials
}

func (a authenticator) fromToken(token string) (Principal, error) {
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{ActorID: claims.Subject, Source: SourceToken}, nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range publicRoutes {
		public[path.Join(basePath, p)] = true
	}
	auth := authenticator{cfg: cfg, repo: r, log: logging.OrDiscard(cfg.Logger)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			principal, err := auth.identify(req)
			switch {
			case errors.Is(err, errNoCredentials):
				writeEnvelope(w, newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil))
			case err != nil:
				logging.With(auth.log.Debug(), logging.Err(err)).Msg("credential rejected")
				writeEnvelope(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			default:
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
			}
		})
	}
}

// writeEnvelope answers outside huma, before routing.
func writeEnvelope(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

// registerDevAuth mints 12h tokens for registered actors. Meant for local
// setups where no identity provider exists.
func registerDevAuth(api huma.API, authCfg AuthConfig, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Mint a token for a registered actor (development)",
		Tags:        []string{"meta"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actorID := strings.TrimSpace(input.Body.ActorID)
		if len(bodyBytes(ctx)) == 0 || actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, err := r.GetActor(ctx, nil, actorID); err != nil {
			return nil, handleError(err)
		}
		token, err := SignToken(authCfg.JWTSecret, actorID, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
