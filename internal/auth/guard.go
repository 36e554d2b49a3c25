package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// errRoleLookup marks a role store failure, which is not the caller's fault
var errRoleLookup = errors.New("role lookup failed")

// Guard authenticates callers and enforces per-route role policies
type Guard struct {
	verifier   *TokenVerifier
	roles      repository.RoleStore
	audit      AuditRecorder
	cronSecret []byte
	logger     logger.Logger
}

// NewGuard creates a new Guard
func NewGuard(verifier *TokenVerifier, roles repository.RoleStore, audit AuditRecorder, cronSecret string, logger logger.Logger) *Guard {
	return &Guard{
		verifier:   verifier,
		roles:      roles,
		audit:      audit,
		cronSecret: []byte(cronSecret),
		logger:     logger,
	}
}

// Authenticate resolves the bearer token into an Actor carried in the request context
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := g.resolve(r)

		if errors.Is(err, errRoleLookup) {
			g.logger.Error("Failed to resolve caller roles", "error", err, "path", r.URL.Path)
			writeDenied(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong. Please try again later.")
			return
		}

		if err != nil {
			g.logger.Debug("Authentication failed", "error", err, "path", r.URL.Path)
			writeDenied(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (g *Guard) resolve(r *http.Request) (models.Actor, error) {
	token, err := bearerToken(r)

	if err != nil {
		return models.Actor{}, err
	}

	userID, err := g.verifier.Verify(token)

	if err != nil {
		return models.Actor{}, err
	}

	roles, err := g.roles.GetRoles(r.Context(), userID)

	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", errRoleLookup, err)
	}

	// Every authenticated user is at least a customer
	if len(roles) == 0 {
		roles = []models.Role{models.RoleCustomer}
	}

	return models.Actor{UserID: userID, Roles: roles}, nil
}

// Require allows the request only if the actor holds one of roles. With no roles
// any authenticated caller passes. Every decision is audited under operation.
func (g *Guard) Require(operation string, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())

			if !ok {
				g.audit.Record(r.Context(), "anonymous", operation, models.DecisionDeny, "no authenticated actor")
				writeDenied(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			if len(roles) > 0 && !actor.HasAnyRole(roles...) {
				g.audit.Record(r.Context(), actor.UserID, operation, models.DecisionDeny, "missing required role")
				g.logger.Info("Access denied", "actorID", actor.UserID, "operation", operation)
				writeDenied(w, http.StatusForbidden, "FORBIDDEN", "You do not have permission to perform this action")
				return
			}

			g.audit.Record(r.Context(), actor.UserID, operation, models.DecisionAllow, "")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCronSecret protects scheduler endpoints. An empty configured secret denies everything.
func (g *Guard) RequireCronSecret(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.checkCronSecret(r); err != nil {
				g.audit.Record(r.Context(), "cron", operation, models.DecisionDeny, err.Error())
				writeDenied(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			g.audit.Record(r.Context(), "cron", operation, models.DecisionAllow, "")
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) checkCronSecret(r *http.Request) error {
	if len(g.cronSecret) == 0 {
		return errors.New("cron secret not configured")
	}

	token, err := bearerToken(r)

	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(token), g.cronSecret) != 1 {
		return errors.New("cron secret mismatch")
	}
	return nil
}

// bearerToken extracts the credential from an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}

// CallerKey identifies the caller for rate limiting
func CallerKey(r *http.Request) string {
	if actor, ok := ActorFrom(r.Context()); ok {
		return actor.UserID
	}
	return "anonymous"
}

func writeDenied(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
