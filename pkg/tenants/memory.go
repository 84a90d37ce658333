// pkg/tenants/memory.go
package tenants

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type memProvider struct {
	log      *zap.SugaredLogger
	byOrigin map[string]Tenant
}

// NewMemoryProvider registers the given entries. An entry is an origin
// ("https://idp.example.com") or an origin with a realm
// ("https://idp.example.com/realms/acme"); repeated origins collect realms.
func NewMemoryProvider(log *zap.SugaredLogger, entries ...string) Provider {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &memProvider{log: log, byOrigin: map[string]Tenant{}}
	for _, e := range entries {
		origin, realm, ok := parseEntry(e)
		if !ok {
			log.Warnw("ignoring allowed origin", "entry", e)
			continue
		}
		t, seen := p.byOrigin[origin]
		t.Origin = origin
		switch {
		case realm == "":
			// a bare origin opens every realm on it
			t.Realms = nil
		case !seen || len(t.Realms) > 0:
			t.Realms = append(t.Realms, realm)
		}
		p.byOrigin[origin] = t
	}
	return p
}

func (m *memProvider) ResolveTenantByOrigin(_ context.Context, origin, realm string) (Tenant, error) {
	t, ok := m.byOrigin[normalizeOrigin(origin)]
	if !ok || !t.allowsRealm(realm) {
		return Tenant{}, ErrUnknownTenant
	}
	return t, nil
}

func parseEntry(e string) (origin, realm string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(e))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "realms" {
			realm = parts[i+1]
			break
		}
	}
	return normalizeOrigin(u.Scheme + "://" + u.Host), realm, true
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(origin, "/"))
}
