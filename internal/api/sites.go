package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/site"
)

// handleListSites lists sites visible to the principal. Entrepreneurs see
// the sites they own, as loaded by the gate; other roles see all sites.
func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	sites := principal.Sites
	if principal.Role != auth.RoleEntrepreneur {
		var err error
		sites, err = s.sites.List(r.Context())
		if err != nil {
			s.logger.Error("list sites failed", "error", err)
			writeInternalError(w, "failed to list sites")
			return
		}
	}
	if sites == nil {
		sites = []site.Site{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sites": sites,
		"count": len(sites),
	})
}

// handleGetSite returns one site. An entrepreneur asking for a site owned
// by someone else is denied rather than told it exists.
func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	st, err := s.sites.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, site.ErrSiteNotFound) {
			writeNotFound(w, "site not found")
			return
		}
		s.logger.Error("get site failed", "error", err)
		writeInternalError(w, "failed to get site")
		return
	}

	if principal.Role == auth.RoleEntrepreneur && st.OwnerID != principal.ID {
		s.respondError(w, r, auth.ErrAccessDenied)
		return
	}

	writeJSON(w, http.StatusOK, st)
}
