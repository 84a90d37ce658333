// Package environment derives the identity-server tenant a page belongs to
// from the URLs the server renders into that page.
package environment

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultClientID is the OIDC client the account console authenticates as.
const DefaultClientID = "account-console"

// Environment describes one tenant (server + realm) and where the account
// pages live. It is a value type; recompute it per page load.
type Environment struct {
	ServerBaseURL   string `json:"serverBaseUrl"`   // no locale segment, no trailing slash
	Realm           string `json:"realm"`
	ClientID        string `json:"clientId"`
	ResourceURL     string `json:"resourceUrl"`
	AccountBasePath string `json:"accountBasePath"` // leading slash, no trailing slash, "/" for root
}

// Matches locale path segments such as es, en, fil, zh-CN, pt-BR, es-419.
var localeSegment = regexp.MustCompile(`^[a-z]{2,3}(-([a-z]{2,4}|[0-9]{3}))?$`)

func isLocaleSegment(s string) bool { return localeSegment.MatchString(strings.ToLower(s)) }

type options struct {
	origin      string
	basePathURL string
	resourceURL string
	clientID    string
}

type Option func(*options)

// WithOrigin sets the origin relative URLs resolve against (default http://localhost).
func WithOrigin(origin string) Option { return func(o *options) { o.origin = origin } }

// WithBasePathURL derives AccountBasePath from u instead of the account URL so
// post-action redirects return to the page the user was on.
func WithBasePathURL(u string) Option { return func(o *options) { o.basePathURL = u } }

func WithResourceURL(u string) Option { return func(o *options) { o.resourceURL = u } }

func WithClientID(id string) Option { return func(o *options) { o.clientID = id } }

// Resolve builds an Environment from an account URL containing /realms/<realm>/.
// ok is false when the URL cannot identify a tenant; callers fall back to
// static data instead of calling the network.
func Resolve(accountURL string, opts ...Option) (env Environment, ok bool) {
	o := options{origin: "http://localhost", clientID: DefaultClientID}
	for _, fn := range opts {
		fn(&o)
	}
	base, err := url.Parse(o.origin)
	if err != nil {
		return Environment{}, false
	}
	parsed, err := base.Parse(accountURL)
	if err != nil || parsed.Host == "" {
		return Environment{}, false
	}

	parts := splitPath(parsed.Path)
	realmsIdx := -1
	for i, p := range parts {
		if p == "realms" {
			realmsIdx = i
			break
		}
	}
	if realmsIdx < 0 || realmsIdx+1 >= len(parts) {
		return Environment{}, false
	}
	realm := parts[realmsIdx+1]

	prefix := parts[:realmsIdx]
	// Only a lone leading locale is routing; deeper prefixes are deployment sub-paths.
	if len(prefix) == 1 && isLocaleSegment(prefix[0]) {
		prefix = nil
	}
	serverBase := parsed.Scheme + "://" + parsed.Host
	if len(prefix) > 0 {
		serverBase += "/" + strings.Join(prefix, "/")
	}
	serverBase = strings.TrimRight(serverBase, "/")

	pathURL := parsed
	if o.basePathURL != "" {
		p, err := parsed.Parse(o.basePathURL)
		if err != nil {
			return Environment{}, false
		}
		pathURL = p
	}
	basePath := strings.TrimRight(pathURL.Path, "/")
	if basePath == "" {
		basePath = "/"
	}

	return Environment{
		ServerBaseURL:   serverBase,
		Realm:           realm,
		ClientID:        o.clientID,
		ResourceURL:     o.resourceURL,
		AccountBasePath: basePath,
	}, true
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Origin is the scheme://host part of ServerBaseURL.
func (e Environment) Origin() string {
	u, err := url.Parse(e.ServerBaseURL)
	if err != nil {
		return e.ServerBaseURL
	}
	return u.Scheme + "://" + u.Host
}

// RealmURL is {serverBaseUrl}/realms/{realm}.
func (e Environment) RealmURL() string {
	return e.ServerBaseURL + "/realms/" + url.PathEscape(e.Realm)
}

// AccountURL joins path onto the realm's account REST root.
func (e Environment) AccountURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.RealmURL() + "/account" + path
}

// ResourcesURL is the theme resource (message catalog) endpoint for one namespace.
func (e Environment) ResourcesURL(namespace, locale string) string {
	return e.ServerBaseURL + "/resources/" + url.PathEscape(e.Realm) + "/" + namespace + "/" + url.PathEscape(locale)
}

// TokenURL and AuthURL are the realm's OIDC endpoints.
func (e Environment) TokenURL() string { return e.RealmURL() + "/protocol/openid-connect/token" }
func (e Environment) AuthURL() string { return e.RealmURL() + "/protocol/openid-connect/auth" }

// RedirectURL is where the identity server sends the browser back to.
func (e Environment) RedirectURL() string {
	if e.AccountBasePath == "/" {
		return e.Origin() + "/"
	}
	return e.Origin() + e.AccountBasePath
}

// Key identifies the tenant for cache scoping.
func (e Environment) Key() string { return e.ServerBaseURL + ":" + e.Realm }
