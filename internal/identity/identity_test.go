package identity

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/faults"
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestFromBearerRoundTrip(t *testing.T) {
	r := NewResolver(testSecret)
	raw := signToken(t, testSecret, jwt.MapClaims{
		"account_id": "acc-1",
		"email":      "d@example.com",
		"role":       "driver",
	})

	id, err := r.FromBearer("Bearer " + raw)
	if err != nil {
		t.Fatalf("from bearer: %v", err)
	}
	want := models.Identity{AccountID: "acc-1", Role: models.RoleDriver, Email: "d@example.com"}
	if id != want {
		t.Fatalf("got %+v, want %+v", id, want)
	}
}

func TestFromBearerRejections(t *testing.T) {
	r := NewResolver(testSecret)

	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", jwt.MapClaims{"account_id": "a", "role": "rider"})},
		{"missing account", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"role": "rider"})},
		{"unknown role", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"account_id": "a", "role": "superuser"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.FromBearer(tc.header); faults.KindOf(err) != faults.Unauthenticated {
				t.Fatalf("expected unauthenticated, got %v", err)
			}
		})
	}
}

func TestFromTokenRejectsWrongAlgorithm(t *testing.T) {
	r := NewResolver(testSecret)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"account_id": "acc-1",
		"role":       "driver",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.FromToken(raw); faults.KindOf(err) != faults.Unauthenticated {
		t.Fatalf("expected unauthenticated for HS512 token, got %v", err)
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in   string
		want models.Role
	}{
		{"rider", models.RoleRider},
		{"driver", models.RoleDriver},
		{"admin", models.RoleAdmin},
		{"both", models.RoleDriver},
		{"BOTH", models.RoleDriver},
		{" Driver ", models.RoleDriver},
		{"", ""},
		{"superuser", ""},
	}
	for _, tc := range cases {
		if got := NormalizeRole(tc.in); got != tc.want {
			t.Fatalf("NormalizeRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
