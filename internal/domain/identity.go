package domain

import (
	"fmt"
	"strings"
)

// ─── Identities ─────────────────────────────────────────────────────────────
// Every caller is an opaque identity string. The daemon never interprets it
// beyond equality and the anonymous check.

// Identity is an opaque, unique caller identifier.
type Identity string

// Anonymous is the identity assigned to callers that did not authenticate.
const Anonymous Identity = "anonymous"

// IsAnonymous reports whether the identity carries no authenticated principal.
func (id Identity) IsAnonymous() bool {
	return id == "" || id == Anonymous
}

func (id Identity) String() string { return string(id) }

// ─── Assets ─────────────────────────────────────────────────────────────────

// Asset names the currency a balance or bounty is denominated in.
// The native asset is "ICP"; ledger tokens are "ICRC1:<ledger-id>".
type Asset string

const (
	AssetNative Asset = "ICP"

	tokenPrefix = "ICRC1:"
)

// TokenAsset returns the asset for a token held by the given ledger.
func TokenAsset(ledger string) Asset {
	return Asset(tokenPrefix + ledger)
}

// IsToken reports whether the asset is a ledger token.
func (a Asset) IsToken() bool {
	return strings.HasPrefix(string(a), tokenPrefix)
}

// Ledger returns the ledger id of a token asset, or "" for the native asset.
func (a Asset) Ledger() string {
	if !a.IsToken() {
		return ""
	}
	return strings.TrimPrefix(string(a), tokenPrefix)
}

// Validate checks that the asset is the native asset or a well-formed token.
func (a Asset) Validate() error {
	switch {
	case a == AssetNative:
		return nil
	case a.IsToken():
		if a.Ledger() == "" || strings.ContainsAny(a.Ledger(), " \t\n") {
			return fmt.Errorf("%w: malformed token asset %q", ErrInvalidInput, string(a))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown asset %q", ErrInvalidInput, string(a))
	}
}

func (a Asset) String() string { return string(a) }

// MaxAmount is the largest amount any balance field may hold.
const MaxAmount uint64 = 1<<63 - 1
