package passkeys

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcsession/internal/accountapi"
)

func containers(t *testing.T, s string) []accountapi.CredentialContainer {
	t.Helper()
	var out []accountapi.CredentialContainer
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}

func TestExtractNestedCredential(t *testing.T) {
	got := Extract(containers(t, `[{"type":"webauthn","userCredentialMetadatas":[{"credential":{"id":"x","userLabel":"Key"}}]}]`), "Passkey")
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
	assert.Equal(t, "Key", got[0].UserLabel)
	assert.Equal(t, "—", got[0].Transports)
	assert.Nil(t, got[0].CreatedAt)
}

func TestExtractShapes(t *testing.T) {
	in := containers(t, `[
	  {"type":"password","userCredentialMetadatas":[{"credential":{"id":"pw"}}]},
	  {"type":"webauthn-passwordless","category":"passwordless","displayName":"Passkey",
	   "userCredentialMetadatas":[
	     {"credentialId":"meta-id","userLabel":"Laptop","createdDate":1700000000000,"transports":["usb","nfc"]},
	     {"credential":{"id":"nested","createdDate":1700000000000,"transports":{"displayNameProperties":["internal","hybrid"]}}},
	     {"credential":{"userLabel":"no id"}}
	   ]},
	  {"type":"otp","category":"passkey-ish","displayName":"Security key",
	   "userCredentials":[{"id":"top","userLabel":"YubiKey"},{"id":"top2"}]}
	]`)

	got := Extract(in, "Passkey")
	require.Len(t, got, 4)

	assert.Equal(t, "meta-id", got[0].ID)
	assert.Equal(t, "Laptop", got[0].UserLabel)
	assert.Equal(t, "Laptop", got[0].Provider)
	assert.Equal(t, "usb, nfc", got[0].Transports)
	require.NotNil(t, got[0].CreatedAt)
	assert.True(t, got[0].CreatedAt.Equal(time.UnixMilli(1700000000000)))

	assert.Equal(t, "nested", got[1].ID)
	assert.Equal(t, "Passkey", got[1].UserLabel, "container display name")
	assert.Equal(t, "Passkey", got[1].Provider)
	assert.Equal(t, "internal, hybrid", got[1].Transports)

	assert.Equal(t, "top", got[2].ID)
	assert.Equal(t, "YubiKey", got[2].UserLabel)
	assert.Equal(t, "Security key", got[3].UserLabel)
	assert.Equal(t, "Security key", got[3].Provider)
}

func TestExtractDefaultLabel(t *testing.T) {
	got := Extract(containers(t, `[{"type":"WebAuthn","userCredentials":[{"id":"a"}]}]`), "Passkey")
	require.Len(t, got, 1)
	assert.Equal(t, "Passkey", got[0].UserLabel)
	assert.Empty(t, got[0].Provider)
}

func TestExtractEmpty(t *testing.T) {
	assert.Equal(t, []Passkey{}, Extract(nil, "Passkey"))
	assert.Equal(t, []Passkey{}, Extract(containers(t, `[{"type":"webauthn"}]`), "Passkey"))
}

func TestIsPasskeyContainer(t *testing.T) {
	assert.True(t, IsPasskeyContainer("webauthn", ""))
	assert.True(t, IsPasskeyContainer("WEBAUTHN-PASSWORDLESS", ""))
	assert.True(t, IsPasskeyContainer("", "Passkey"))
	assert.True(t, IsPasskeyContainer("otp", "passwordless"))
	assert.False(t, IsPasskeyContainer("otp", "two-factor"))
	assert.False(t, IsPasskeyContainer("", ""))
}

func TestEnabled(t *testing.T) {
	assert.True(t, Enabled(containers(t, `[{"type":"password"},{"type":"webauthn"}]`)))
	assert.False(t, Enabled(containers(t, `[{"type":"password"},{"type":"otp"}]`)))
	assert.False(t, Enabled(nil))
}

func TestFormatTransports(t *testing.T) {
	assert.Equal(t, "—", formatTransports(nil))
	assert.Equal(t, "—", formatTransports([]any{}))
	assert.Equal(t, "—", formatTransports(map[string]any{}))
	assert.Equal(t, "ble", formatTransports([]any{"ble", 3}))
}
