package search

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pawprint/pkg/httputil"
	"github.com/platinummonkey/pawprint/pkg/observability"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handlers exposes the search service over HTTP
type Handlers struct {
	service *Service
	logger  logrus.FieldLogger
}

// NewHandlers creates search handlers
func NewHandlers(service *Service, logger logrus.FieldLogger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers search routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/search", h.search).Methods("GET")
	router.HandleFunc("/search", h.upsertSynonyms).Methods("POST")
	router.HandleFunc("/search/synonyms", h.listSynonyms).Methods("GET")
	router.HandleFunc("/search/suggest", h.suggest).Methods("GET")

	router.HandleFunc("/search/saved", h.listSavedSearches).Methods("GET")
	router.HandleFunc("/search/saved", h.createSavedSearch).Methods("POST")
	router.HandleFunc("/search/saved", h.updateSavedSearch).Methods("PUT")
	router.HandleFunc("/search/saved", h.deleteSavedSearch).Methods("DELETE")
	router.HandleFunc("/search/saved/{id}/check", h.checkSavedSearch).Methods("GET")
	router.HandleFunc("/search/saved/{id}", h.getSavedSearch).Methods("GET")
	router.HandleFunc("/search/saved/{id}", h.updateSavedSearch).Methods("PUT")
	router.HandleFunc("/search/saved/{id}", h.deleteSavedSearch).Methods("DELETE")

	router.HandleFunc("/search/telemetry", h.recordTelemetry).Methods("POST")
	router.HandleFunc("/search/telemetry", h.listTelemetry).Methods("GET")
}

// search handles GET /search
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.service.Search(r.Context(), q, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// parseSearchQuery reads the GET /search parameters. Range checks beyond
// number syntax and geo completeness are left to SearchQuery.Validate.
func parseSearchQuery(r *http.Request) (SearchQuery, error) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultLimit)
	if err != nil {
		return SearchQuery{}, &ValidationError{Field: "limit", Message: "must be an integer"}
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return SearchQuery{}, &ValidationError{Field: "offset", Message: "must be an integer"}
	}
	geo, err := parseGeo(r)
	if err != nil {
		return SearchQuery{}, err
	}
	return SearchQuery{
		Text:   httputil.ParseQueryString(r, "q", ""),
		Types:  ParseEntityTypes(httputil.ParseQueryList(r, "types")),
		Limit:  limit,
		Offset: offset,
		Filters: Filters{
			Species:  strings.ToLower(strings.TrimSpace(r.URL.Query().Get("species"))),
			Tags:     ParseTags(r.URL.Query().Get("tags")),
			PostType: strings.TrimSpace(r.URL.Query().Get("type")),
		},
		Geo: geo,
	}, nil
}

// parseGeo returns nil when no geo parameter is present; lat, lng and radius
// must otherwise all be given
func parseGeo(r *http.Request) (*GeoPoint, error) {
	var (
		values  [3]float64
		present [3]bool
	)
	for i, key := range []string{"lat", "lng", "radius"} {
		v, ok, err := httputil.ParseQueryFloat(r, key)
		if err != nil {
			return nil, &ValidationError{Field: key, Message: "must be a number"}
		}
		values[i], present[i] = v, ok
	}
	switch {
	case !present[0] && !present[1] && !present[2]:
		return nil, nil
	case !present[0] || !present[1] || !present[2]:
		return nil, &ValidationError{Field: "geo", Message: "lat, lng and radius must be provided together"}
	}
	return &GeoPoint{Lat: values[0], Lng: values[1], RadiusKm: values[2]}, nil
}

// requestMeta prefers the first X-Forwarded-For hop over the socket address
func requestMeta(r *http.Request) RequestMeta {
	return RequestMeta{IPAddress: httputil.ClientIP(r), UserAgent: r.UserAgent()}
}

type synonymRequest struct {
	Term     string   `json:"term"`
	Synonyms []string `json:"synonyms"`
}

// upsertSynonyms handles POST /search
func (h *Handlers) upsertSynonyms(w http.ResponseWriter, r *http.Request) {
	var req synonymRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	entry, err := h.service.UpsertSynonyms(r.Context(), req.Term, req.Synonyms)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// listSynonyms handles GET /search/synonyms
func (h *Handlers) listSynonyms(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseListWindow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.service.ListSynonyms(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"synonyms":   entries,
		"pagination": Pagination{Total: len(entries), Limit: limit, Offset: offset},
	})
}

// suggest handles GET /search/suggest
func (h *Handlers) suggest(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultSuggestLimit)
	if err != nil {
		h.writeError(w, r, &ValidationError{Field: "limit", Message: "must be an integer"})
		return
	}
	suggestions, err := h.service.Suggest(r.Context(), httputil.ParseQueryString(r, "q", ""), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"suggestions": suggestions})
}

// listSavedSearches handles GET /search/saved
func (h *Handlers) listSavedSearches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseListWindow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var userID *string
	if v := strings.TrimSpace(r.URL.Query().Get("userId")); v != "" {
		userID = &v
	}
	saved, err := h.service.ListSavedSearches(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"savedSearches": saved})
}

// createSavedSearch handles POST /search/saved
func (h *Handlers) createSavedSearch(w http.ResponseWriter, r *http.Request) {
	var in SavedSearchInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	saved, err := h.service.CreateSavedSearch(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, saved)
}

// getSavedSearch handles GET /search/saved/{id}
func (h *Handlers) getSavedSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	saved, err := h.service.GetSavedSearch(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, saved)
}

// updateSavedSearch handles PUT /search/saved/{id} and PUT /search/saved
// with the id in the body
func (h *Handlers) updateSavedSearch(w http.ResponseWriter, r *http.Request) {
	var patch SavedSearchPatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		id = strings.TrimSpace(patch.ID)
	}
	if id == "" {
		h.writeError(w, r, &ValidationError{Field: "id", Message: "is required"})
		return
	}
	saved, err := h.service.UpdateSavedSearch(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, saved)
}

// deleteSavedSearch handles DELETE /search/saved/{id} and
// DELETE /search/saved?id=
func (h *Handlers) deleteSavedSearch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("id"))
	}
	if id == "" {
		h.writeError(w, r, &ValidationError{Field: "id", Message: "is required"})
		return
	}
	if err := h.service.DeleteSavedSearch(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// checkSavedSearch handles GET /search/saved/{id}/check
func (h *Handlers) checkSavedSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.CheckSavedSearch(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type telemetryRequest struct {
	Query       string   `json:"query"`
	ResultCount int      `json:"resultCount"`
	EntityTypes []string `json:"entityTypes"`
	Filters     Filters  `json:"filters"`
	DurationMs  int64    `json:"durationMs"`
}

// recordTelemetry handles POST /search/telemetry. The write happens in the
// background so the response is always 202.
func (h *Handlers) recordTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		h.writeError(w, r, &ValidationError{Field: "query", Message: "is required"})
		return
	}
	if req.ResultCount < 0 {
		h.writeError(w, r, &ValidationError{Field: "resultCount", Message: "must be 0 or greater"})
		return
	}
	meta := requestMeta(r)
	rec := NewTelemetryRecord(req.Query, req.ResultCount, ParseEntityTypes(req.EntityTypes), req.Filters,
		meta.IPAddress, meta.UserAgent, time.Duration(req.DurationMs)*time.Millisecond)
	h.service.RecordTelemetry(r.Context(), rec)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// listTelemetry handles GET /search/telemetry
func (h *Handlers) listTelemetry(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseListWindow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	zeroOnly := false
	if raw := r.URL.Query().Get("zeroResultsOnly"); raw != "" {
		zeroOnly, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, &ValidationError{Field: "zeroResultsOnly", Message: "must be a boolean"})
			return
		}
	}
	page, err := h.service.ListTelemetry(r.Context(), limit, offset, zeroOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

func parseListWindow(r *http.Request) (int, int, error) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, 0, &ValidationError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxListLimit)}
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		return 0, 0, &ValidationError{Field: "offset", Message: "must be 0 or greater"}
	}
	return limit, offset, nil
}

// writeError maps service errors to status codes. Unclassified errors are
// logged and reported as a bare 500.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid request", map[string]string{verr.Field: verr.Message})
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, "saved search not found")
	case errors.Is(err, ErrCheckInProgress):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContextOr(r.Context(), h.logger).WithError(err).
			WithField("path", r.URL.Path).Error("search request failed")
		httputil.WriteInternalError(w)
	}
}
