package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// Resolver turns a bearer token into a typed Identity. Claims are validated
// once here; nothing downstream re-derives the account or role.
type Resolver struct {
	Secret []byte
}

func NewResolver(secret string) *Resolver {
	return &Resolver{Secret: []byte(secret)}
}

// FromBearer parses and validates an Authorization header value.
func (r *Resolver) FromBearer(header string) (models.Identity, error) {
	if header == "" {
		return models.Identity{}, faults.New(faults.Unauthenticated, "missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header {
		return models.Identity{}, faults.New(faults.Unauthenticated, "authorization header is not a bearer token")
	}
	return r.FromToken(raw)
}

func (r *Resolver) FromToken(raw string) (models.Identity, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.MapClaims{}, func(t *jwt.Token) (interface{}, error) {
		return r.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return models.Identity{}, faults.Wrap(faults.Unauthenticated, "invalid token", err)
	}
	claims := *token.Claims.(*jwt.MapClaims)
	id := models.Identity{}
	if v, ok := claims["account_id"].(string); ok {
		id.AccountID = v
	}
	if v, ok := claims["email"].(string); ok {
		id.Email = v
	}
	role, _ := claims["role"].(string)
	id.Role = NormalizeRole(role)
	if id.AccountID == "" || id.Role == "" {
		return models.Identity{}, faults.New(faults.Unauthenticated, "token is missing account or role")
	}
	return id, nil
}

// NormalizeRole folds legacy role spellings into the closed enum. "BOTH" was
// a historical union value; the most recent behavior is to treat it as a
// driver, so that is what the boundary does.
func NormalizeRole(raw string) models.Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rider":
		return models.RoleRider
	case "driver", "both":
		return models.RoleDriver
	case "admin":
		return models.RoleAdmin
	default:
		return ""
	}
}
