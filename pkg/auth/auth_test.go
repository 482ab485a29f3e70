package auth

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

func TestJWTRoundTrip(t *testing.T) {
	j, err := NewJWT("secret", "radiod", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, err := j.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %s", err)
	}
	id, err := j.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %s", err)
	}
	if id.UserID != "user-1" {
		t.Errorf("wanted user-1, got %q", id.UserID)
	}
}

func sign(t *testing.T, key string, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTRejects(t *testing.T) {
	j, _ := NewJWT("secret", "radiod", time.Hour)
	now := time.Now()
	valid := jwt.RegisteredClaims{Subject: "u", Issuer: "radiod", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	otherIssuer := valid
	otherIssuer.Issuer = "elsewhere"
	noSubject := valid
	noSubject.Subject = ""

	tokens := map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"expired":      sign(t, "secret", jwt.SigningMethodHS256, expired),
		"wrong key":    sign(t, "other", jwt.SigningMethodHS256, valid),
		"wrong method": sign(t, "secret", jwt.SigningMethodHS512, valid),
		"wrong issuer": sign(t, "secret", jwt.SigningMethodHS256, otherIssuer),
		"no user":      sign(t, "secret", jwt.SigningMethodHS256, noSubject),
	}
	for name, token := range tokens {
		if _, err := j.Verify(context.Background(), token); errors.Cause(err) != ErrInvalidToken {
			t.Errorf("%s: wanted ErrInvalidToken, got %v", name, err)
		}
	}

	id, err := j.Verify(context.Background(), sign(t, "secret", jwt.SigningMethodHS256, valid))
	if err != nil || id.UserID != "u" {
		t.Errorf("subject fallback; got %+v, %v", id, err)
	}
}

func TestNewJWTNeedsSecret(t *testing.T) {
	if _, err := NewJWT("", "", 0); err == nil {
		t.Errorf("wanted an error without a secret")
	}
}

func TestBoltDirectory(t *testing.T) {
	d, err := OpenBoltDirectory(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	want := Profile{UserID: "42", Username: "ana", FullName: "Ana Pérez"}
	if err := d.Put(want); err != nil {
		t.Fatalf("Put: %s", err)
	}
	got, err := d.Lookup(context.Background(), "42")
	if err != nil {
		t.Fatalf("Lookup: %s", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("wanted %+v, got %+v", want, got)
	}

	if _, err := d.Lookup(context.Background(), "43"); errors.Cause(err) != ErrUserNotFound {
		t.Errorf("wanted ErrUserNotFound, got %v", err)
	}
	if err := d.Put(Profile{UserID: "44"}); err == nil {
		t.Errorf("wanted an error for a profile without a username")
	}

	if err := d.Delete("42"); err != nil {
		t.Fatalf("Delete: %s", err)
	}
	if _, err := d.Lookup(context.Background(), "42"); errors.Cause(err) != ErrUserNotFound {
		t.Errorf("deleted profile still found: %v", err)
	}
}

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory(Profile{UserID: "1", Username: "uno"})
	if p, err := d.Lookup(context.Background(), "1"); err != nil || p.Username != "uno" {
		t.Errorf("got %+v, %v", p, err)
	}
	if _, err := d.Lookup(context.Background(), "2"); errors.Cause(err) != ErrUserNotFound {
		t.Errorf("wanted ErrUserNotFound, got %v", err)
	}
}
