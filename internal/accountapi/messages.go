package accountapi

import (
	"context"
	"encoding/json"
	"net/http"

	"kcsession/internal/environment"
)

// Message namespaces, most specific first.
var messageNamespaces = []string{"account", "login"}

type messageEntry struct {
	Key   *string `json:"key"`
	Value *string `json:"value"`
}

// FetchMessages loads the account and login theme catalogs for o.Locale and
// merges them; account keys win. Unavailable or malformed catalogs count as
// empty, so the result is never nil.
func (c *Client) FetchMessages(ctx context.Context, env environment.Environment, o Options) map[string]string {
	merged := map[string]string{}
	// Walk from least to most specific so later writes win.
	for i := len(messageNamespaces) - 1; i >= 0; i-- {
		for k, v := range c.fetchCatalog(ctx, env, messageNamespaces[i], o) {
			merged[k] = v
		}
	}
	return merged
}

func (c *Client) fetchCatalog(ctx context.Context, env environment.Environment, namespace string, o Options) map[string]string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ResourcesURL(namespace, o.Locale), nil)
	if err != nil {
		return nil
	}
	setCommon(req, o, true)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debugw("message catalog unavailable", "namespace", namespace, "err", err)
		return nil
	}
	var raw []json.RawMessage
	if !DecodeJSON(resp, &raw) {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, r := range raw {
		var e messageEntry
		if json.Unmarshal(r, &e) != nil || e.Key == nil || e.Value == nil {
			continue
		}
		out[*e.Key] = *e.Value
	}
	return out
}
