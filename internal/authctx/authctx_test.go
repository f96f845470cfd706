package authctx

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

type fakeInvoker struct {
	str    string
	strErr error
	ok     bool
	okErr  error

	gotFunc string
	gotArgs []any
}

func (f *fakeInvoker) InvokeString(ctx context.Context, functionFullName string, args ...any) (string, error) {
	f.gotFunc = functionFullName
	f.gotArgs = args
	return f.str, f.strErr
}

func (f *fakeInvoker) InvokeBool(ctx context.Context, functionFullName string, args ...any) (bool, error) {
	f.gotFunc = functionFullName
	f.gotArgs = args
	return f.ok, f.okErr
}

func TestSignProducesUppercaseHexLength128(t *testing.T) {
	t.Parallel()

	got := Sign("key", "challenge")

	mac := hmac.New(sha512.New, []byte("key"))
	mac.Write([]byte("challenge"))
	want := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	if got != want {
		t.Fatalf("Sign() = %q, want %q", got, want)
	}
	if len(got) != 128 {
		t.Fatalf("len(Sign()) = %d, want 128", len(got))
	}
	if got != strings.ToUpper(got) {
		t.Fatalf("Sign() = %q, want all-uppercase hex", got)
	}
	if strings.ContainsAny(got, "-: ") {
		t.Fatalf("Sign() = %q, want no separators", got)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Sign("secret", "abc123")
	b := Sign("secret", "abc123")
	if a != b {
		t.Fatalf("Sign() not deterministic: %q != %q", a, b)
	}
}

func TestSignDiffersByKeyAndChallenge(t *testing.T) {
	t.Parallel()

	base := Sign("secret", "abc123")
	if Sign("other", "abc123") == base {
		t.Fatalf("Sign() did not change with a different key")
	}
	if Sign("secret", "xyz789") == base {
		t.Fatalf("Sign() did not change with a different challenge")
	}
}

func TestGetAuthContextInvokesHubMethod(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{str: "challenge-token"}
	c := New(inv)

	got, err := c.GetAuthContext(context.Background(), "my-api-key")
	if err != nil {
		t.Fatalf("GetAuthContext() error = %v", err)
	}
	if got != "challenge-token" {
		t.Fatalf("GetAuthContext() = %q, want challenge-token", got)
	}
	if inv.gotFunc != "GetAuthContext" {
		t.Fatalf("invoked %q, want GetAuthContext", inv.gotFunc)
	}
	if len(inv.gotArgs) != 1 || inv.gotArgs[0] != "my-api-key" {
		t.Fatalf("args = %v, want [my-api-key]", inv.gotArgs)
	}
}

func TestGetAuthContextPropagatesError(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{strErr: errors.New("boom")}
	c := New(inv)

	_, err := c.GetAuthContext(context.Background(), "k")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestAuthenticateInvokesHubMethod(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{ok: true}
	c := New(inv)

	ok, err := c.Authenticate(context.Background(), "my-api-key", "SIGNED")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Fatalf("Authenticate() = false, want true")
	}
	if inv.gotFunc != "Authenticate" {
		t.Fatalf("invoked %q, want Authenticate", inv.gotFunc)
	}
	if len(inv.gotArgs) != 2 || inv.gotArgs[0] != "my-api-key" || inv.gotArgs[1] != "SIGNED" {
		t.Fatalf("args = %v, want [my-api-key SIGNED]", inv.gotArgs)
	}
}

func TestAuthenticateRejection(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{ok: false}
	c := New(inv)

	ok, err := c.Authenticate(context.Background(), "k", "bad-signature")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ok {
		t.Fatalf("Authenticate() = true, want false")
	}
}

func TestAuthenticatePropagatesError(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{okErr: errors.New("boom")}
	c := New(inv)

	_, err := c.Authenticate(context.Background(), "k", "s")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestEndToEndSignThenAuthenticate(t *testing.T) {
	t.Parallel()

	const apiKey = "key"
	const apiSecret = "key"
	inv := &fakeInvoker{str: "challenge"}
	c := New(inv)

	challenge, err := c.GetAuthContext(context.Background(), apiKey)
	if err != nil {
		t.Fatalf("GetAuthContext() error = %v", err)
	}

	signed := Sign(apiSecret, challenge)
	inv.ok = true

	ok, err := c.Authenticate(context.Background(), apiKey, signed)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Fatalf("Authenticate() = false, want true")
	}
	if inv.gotArgs[1] != signed {
		t.Fatalf("Authenticate was not called with the signed challenge")
	}
}
