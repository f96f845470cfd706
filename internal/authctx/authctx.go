// Package authctx implements the hub's authentication helpers: deriving
// an auth context, authenticating against it with a signed challenge,
// and the signing primitive itself. None of this participates in book
// reconciliation — it is an observable surface the hub exposes, kept
// separate from the core reconciler/hub packages.
package authctx

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// Invoker calls a hub method by name and returns its single string or
// bool result. Context wraps the same Manager.Subscribe-shaped hub proxy
// used elsewhere, scoped here to single-shot RPCs rather than
// subscriptions.
type Invoker interface {
	InvokeString(ctx context.Context, functionFullName string, args ...any) (string, error)
	InvokeBool(ctx context.Context, functionFullName string, args ...any) (bool, error)
}

// Context wraps a hub Invoker with the two authentication RPCs.
type Context struct {
	invoke Invoker
}

// New returns an authentication helper bound to invoke.
func New(invoke Invoker) *Context {
	return &Context{invoke: invoke}
}

// GetAuthContext invokes the hub's GetAuthContext method with apiKey and
// returns the challenge string to sign.
func (c *Context) GetAuthContext(ctx context.Context, apiKey string) (string, error) {
	challenge, err := c.invoke.InvokeString(ctx, "GetAuthContext", apiKey)
	if err != nil {
		return "", fmt.Errorf("authctx: GetAuthContext: %w", err)
	}
	return challenge, nil
}

// Authenticate invokes the hub's Authenticate method with apiKey and the
// signed challenge, returning whether the hub accepted it.
func (c *Context) Authenticate(ctx context.Context, apiKey, signedChallenge string) (bool, error) {
	ok, err := c.invoke.InvokeBool(ctx, "Authenticate", apiKey, signedChallenge)
	if err != nil {
		return false, fmt.Errorf("authctx: Authenticate: %w", err)
	}
	return ok, nil
}

// Sign computes the HMAC-SHA-512 of the UTF-8 challenge, keyed by the
// UTF-8 apiSecret, rendered as uppercase hex with no separators (128
// characters for the 64-byte MAC).
func Sign(apiSecret, challenge string) string {
	mac := hmac.New(sha512.New, []byte(apiSecret))
	mac.Write([]byte(challenge))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
