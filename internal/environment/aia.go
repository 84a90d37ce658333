package environment

import (
	"net/url"
	"strings"
)

// Application-initiated actions are triggered by sending the browser through
// the auth endpoint with kc_action set, so the server creates a proper auth
// session before running the required action.

const aiaClientID = "account"

func (e Environment) aiaURL(action, returnTo string) string {
	q := url.Values{}
	q.Set("client_id", aiaClientID)
	q.Set("redirect_uri", returnTo)
	q.Set("response_type", "code")
	q.Set("scope", "openid")
	q.Set("kc_action", action)
	return e.AuthURL() + "?" + q.Encode()
}

// DeleteAccountURL starts the delete_account action and comes back to the account page.
func (e Environment) DeleteAccountURL() string {
	return e.aiaURL("delete_account", e.RedirectURL())
}

// RegisterPasskeyURL starts passwordless WebAuthn registration. returnPath
// defaults to AccountBasePath.
func (e Environment) RegisterPasskeyURL(returnPath string) string {
	returnTo := e.RedirectURL()
	if returnPath != "" {
		returnTo = e.Origin() + "/" + strings.TrimLeft(returnPath, "/")
	}
	return e.aiaURL("webauthn-register-passwordless", returnTo)
}

// DeleteCredentialActionURL appends kc_action=delete_credential:<id> to the
// current account page, preserving any existing query.
func (e Environment) DeleteCredentialActionURL(credentialID string) string {
	base := e.RedirectURL()
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "kc_action=delete_credential:" + url.QueryEscape(credentialID)
}
