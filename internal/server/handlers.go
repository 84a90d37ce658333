package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kcsession/internal/orchestrator"
	"kcsession/internal/profile"
	"kcsession/internal/session"
	"kcsession/pkg/middleware"
	"kcsession/pkg/problems"
)

type accountResponse struct {
	Data   orchestrator.AccountData `json:"data"`
	Cached bool                     `json:"cached"`
	Source string                   `json:"source"` // live | cache | fixtures
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	if !middleware.PageFrom(r.Context()).Resolved {
		writeJSON(w, http.StatusOK, accountResponse{Data: fixtures(r).FixtureData(), Source: "fixtures"})
		return
	}
	ps := s.open(r)
	res := ps.Load(r.Context(), ps.page.Context.Locale)
	if grantFailed(w, res.Grant) {
		return
	}
	source := "live"
	if res.Cached {
		source = "cache"
	}
	ps.writeJSON(w, http.StatusOK, accountResponse{Data: res.Data, Cached: res.Cached, Source: source})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	page := middleware.PageFrom(r.Context())
	if !page.Resolved {
		writeJSON(w, http.StatusOK, profile.Build(nil, page.Context.Realm, page.Context.FallbackAttributes()))
		return
	}
	ps := s.open(r)
	schema, res := ps.Profile(r.Context(), page.Context.Locale, page.Context.Realm, page.Context.FallbackAttributes())
	if grantFailed(w, res.Grant) {
		return
	}
	ps.writeJSON(w, http.StatusOK, schema)
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) {
	page := middleware.PageFrom(r.Context())
	if !page.Resolved {
		problems.Write(w, problems.Problem{
			Type:   problems.Type("preview-mode"),
			Title:  "profile cannot be saved in preview mode",
			Status: http.StatusConflict,
		})
		return
	}
	form, err := decodeForm(r)
	if err != nil {
		problems.Write(w, problems.Problem{
			Type:   problems.Type("invalid-form"),
			Title:  "profile form could not be decoded",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
		})
		return
	}
	ps := s.open(r)
	writeMutation(w, ps, ps.SaveProfile(r.Context(), page.Context.Locale, form), http.StatusOK)
}

// decodeForm accepts a JSON object or an urlencoded form.
func decodeForm(r *http.Request) (profile.FormData, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return profile.FormData(r.PostForm), nil
	}
	var form profile.FormData
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&form); err != nil {
		return nil, err
	}
	return form, nil
}

func writeMutation(w http.ResponseWriter, ps pageSession, out session.MutationResult, okStatus int) {
	if grantFailed(w, out.Grant) {
		return
	}
	if !out.OK {
		ps.writeJSON(w, http.StatusUnprocessableEntity, out)
		return
	}
	if okStatus == http.StatusNoContent {
		if tok, ok := ps.broker.Held(); ok && tok != ps.creds.AccessToken {
			w.Header().Set("X-Access-Token", tok)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ps.writeJSON(w, okStatus, out)
}

type passkeysResponse struct {
	session.PasskeyView
	RegisterURL string `json:"registerUrl,omitempty"`
}

func (s *Server) getPasskeys(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("defaultLabel")
	if label == "" {
		label = DefaultPasskeyLabel
	}
	page := middleware.PageFrom(r.Context())
	if !page.Resolved {
		writeJSON(w, http.StatusOK, passkeysResponse{PasskeyView: session.PasskeyView{Passkeys: page.Context.Passkeys(), Enabled: true}})
		return
	}
	ps := s.open(r)
	view, res := ps.Passkeys(r.Context(), page.Context.Locale, label)
	if grantFailed(w, res.Grant) {
		return
	}
	out := passkeysResponse{PasskeyView: view}
	if view.Enabled {
		out.RegisterURL = page.Env.RegisterPasskeyURL(r.URL.Query().Get("returnPath"))
	}
	ps.writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteCredential(w http.ResponseWriter, r *http.Request) {
	page := middleware.PageFrom(r.Context())
	if !page.Resolved {
		unresolved(w)
		return
	}
	ps := s.open(r)
	writeMutation(w, ps, ps.DeleteCredential(r.Context(), chi.URLParam(r, "id")), http.StatusNoContent)
}

type actionsResponse struct {
	DeleteAccountURL    string `json:"deleteAccountUrl"`
	RegisterPasskeyURL  string `json:"registerPasskeyUrl"`
	DeleteCredentialURL string `json:"deleteCredentialUrl,omitempty"`
}

func (s *Server) getActions(w http.ResponseWriter, r *http.Request) {
	page := middleware.PageFrom(r.Context())
	if !page.Resolved {
		unresolved(w)
		return
	}
	q := r.URL.Query()
	out := actionsResponse{
		DeleteAccountURL:   page.Env.DeleteAccountURL(),
		RegisterPasskeyURL: page.Env.RegisterPasskeyURL(q.Get("returnPath")),
	}
	if id := q.Get("credentialId"); id != "" {
		out.DeleteCredentialURL = page.Env.DeleteCredentialActionURL(id)
	}
	writeJSON(w, http.StatusOK, out)
}
