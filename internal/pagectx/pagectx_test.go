package pagectx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcsession/internal/passkeys"
	"kcsession/internal/profile"
)

const yamlDoc = `
accountUrl: https://idp.example.com/es/realms/acme/account
basePathUrl: /realms/acme/account/personal-info
locale: es
realm:
  registrationEmailAsUsername: true
profile:
  attributesByName:
    email:
      name: email
      displayName: "${email}"
      required: true
      value: jdoe@example.com
mockPasskeys:
  - id: pk-1
    userLabel: Laptop
    transports: internal
  - id: pk-2
    userLabel: Key
messages:
  doSave: Guardar
applications:
  - clientId: web
    clientName: Web App
    userConsentRequired: true
`

func TestParseYAMLUsesJSONFieldNames(t *testing.T) {
	pc, err := ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "es", pc.Locale)
	assert.True(t, pc.Realm.RegistrationEmailAsUsername)
	require.Contains(t, pc.FallbackAttributes(), "email")
	email := pc.FallbackAttributes()["email"]
	assert.True(t, email.Required)
	require.NotNil(t, email.Value)
	assert.Equal(t, "jdoe@example.com", *email.Value)

	require.Len(t, pc.Applications, 1)
	assert.Equal(t, "web", pc.Applications[0].ClientID)
	assert.True(t, pc.Applications[0].UserConsentRequired)
}

func TestEnvironment(t *testing.T) {
	pc, err := ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)

	env, ok := pc.Environment()
	require.True(t, ok)
	assert.Equal(t, "https://idp.example.com", env.ServerBaseURL)
	assert.Equal(t, "acme", env.Realm)
	assert.Equal(t, "/realms/acme/account/personal-info", env.AccountBasePath)

	_, ok = PageContext{}.Environment()
	assert.False(t, ok)
	_, ok = PageContext{AccountURL: "https://idp.example.com/account"}.Environment()
	assert.False(t, ok)
}

func TestFixtures(t *testing.T) {
	pc, err := ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)

	data := pc.FixtureData()
	assert.Nil(t, data.Profile)
	assert.Nil(t, data.Credentials)
	assert.Equal(t, "Guardar", data.Messages["doSave"])
	require.Len(t, data.Applications, 1)

	pks := pc.Passkeys()
	require.Len(t, pks, 2)
	assert.Equal(t, "internal", pks[0].Transports)
	assert.Equal(t, passkeys.NoTransports, pks[1].Transports)

	empty := PageContext{}
	assert.NotNil(t, empty.FixtureData().Messages)
	assert.NotNil(t, empty.FixtureData().Applications)
	assert.NotNil(t, empty.Passkeys())
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "page.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"accountUrl":"https://idp/realms/r/account","locale":"de"}`), 0o600))
	yamlPath := filepath.Join(dir, "page.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o600))

	pc, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "de", pc.Locale)

	pc, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "es", pc.Locale)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
	_, err = ParseJSON([]byte("{"))
	assert.Error(t, err)
}

func TestEmptyYAML(t *testing.T) {
	pc, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, PageContext{}, pc)
}

func TestMerge(t *testing.T) {
	base := PageContext{AccountURL: "https://a/realms/x/account", Locale: "en", Messages: map[string]string{"k": "v"}}
	out := base.Merge(PageContext{Locale: "fr"})
	assert.Equal(t, "fr", out.Locale)
	assert.Equal(t, base.AccountURL, out.AccountURL)
	assert.Equal(t, "v", out.Messages["k"])
}

func TestMergeRealmOverridesBothWays(t *testing.T) {
	base := PageContext{Realm: profile.Realm{RegistrationEmailAsUsername: true}}

	out := base.Merge(PageContext{Locale: "fr"})
	assert.True(t, out.Realm.RegistrationEmailAsUsername, "absent realm keeps the default")

	out = base.Merge(PageContext{}.WithRealm(profile.Realm{RegistrationEmailAsUsername: false}))
	assert.False(t, out.Realm.RegistrationEmailAsUsername)

	out = PageContext{}.Merge(PageContext{}.WithRealm(profile.Realm{RegistrationEmailAsUsername: true}))
	assert.True(t, out.Realm.RegistrationEmailAsUsername)
}
