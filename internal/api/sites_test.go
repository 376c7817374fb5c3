package api

import (
	"net/http"
	"testing"

	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/site"
)

type siteList struct {
	Sites []site.Site `json:"sites"`
	Count int         `json:"count"`
}

func TestSites_ScopedByRole(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice@example.com", auth.RoleEntrepreneur, testPassword)
	bob := env.createUser(t, "bob@example.com", auth.RoleEntrepreneur, testPassword)
	inspector := env.createUser(t, "inspector@example.com", auth.RoleInspector, testPassword)

	aliceSite := &site.Site{Name: "Alice Works", OwnerID: alice.ID}
	bobSite := &site.Site{Name: "Bob Yard", OwnerID: bob.ID}
	for _, s := range []*site.Site{aliceSite, bobSite} {
		if err := env.sites.Create(t.Context(), s); err != nil {
			t.Fatalf("creating site: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/sites", nil, bearer(env.tokenFor(t, alice)))
	var own siteList
	decodeJSON(t, rec, &own)
	if own.Count != 1 || own.Sites[0].ID != aliceSite.ID {
		t.Errorf("entrepreneur sites = %+v, want only %s", own.Sites, aliceSite.ID)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sites", nil, bearer(env.tokenFor(t, inspector)))
	var all siteList
	decodeJSON(t, rec, &all)
	if all.Count != 2 {
		t.Errorf("inspector sees %d sites, want 2", all.Count)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sites/"+bobSite.ID, nil, bearer(env.tokenFor(t, alice)))
	expectError(t, rec, http.StatusForbidden, ErrCodeAccessDenied)

	rec = env.do(t, http.MethodGet, "/api/v1/sites/"+bobSite.ID, nil, bearer(env.tokenFor(t, inspector)))
	if rec.Code != http.StatusOK {
		t.Errorf("inspector get site status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sites/site-missing", nil, bearer(env.tokenFor(t, inspector)))
	expectError(t, rec, http.StatusNotFound, ErrCodeNotFound)
}

func TestSites_EntrepreneurWithoutSites(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t, "owner@example.com", auth.RoleEntrepreneur, testPassword)

	rec := env.do(t, http.MethodGet, "/api/v1/sites", nil, bearer(env.tokenFor(t, owner)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp siteList
	decodeJSON(t, rec, &resp)
	if resp.Sites == nil || resp.Count != 0 {
		t.Errorf("sites = %#v, want empty list", resp.Sites)
	}
}
