package api

import (
	"net/http"
	"strconv"

	"github.com/adindex/adindex/internal/apierr"
	"github.com/adindex/adindex/internal/store"
)

// adQueryDTO is an AdQuery as sent over the wire: ad_query_id is a
// positive integer internally but always a string on the wire.
type adQueryDTO struct {
	AdQueryID  string   `json:"ad_query_id"`
	Nickname   string   `json:"nickname"`
	Query      string   `json:"query"`
	Filters    []string `json:"filters"`
	Subscribed bool     `json:"subscribed"`
}

func toAdQueryDTO(rec store.AdQueryRecord) adQueryDTO {
	return adQueryDTO{
		AdQueryID:  strconv.FormatInt(rec.AdQueryID, 10),
		Nickname:   rec.Nickname,
		Query:      rec.Query,
		Filters:    nonNilFilters(rec.Filters),
		Subscribed: rec.Subscribed,
	}
}

// adQueryStatusDTO is an adQueryDTO plus scheduler bookkeeping, per
// get_ad_query_status.
type adQueryStatusDTO struct {
	adQueryDTO
	NextPull   int64   `json:"nextPull"`
	LastPull   *int64  `json:"lastPull"`
	LastError  *string `json:"lastError"`
	LastNotify *int64  `json:"lastNotify"`
}

// adContentDTO is one stored ad, as returned by list_ad_content.
type adContentDTO struct {
	ID          string `json:"id"`
	AccountName string `json:"accountName"`
	AccountURL  string `json:"accountUrl"`
	StartDate   int64  `json:"startDate"`
	LastSeen    int64  `json:"lastSeen"`
	Text        string `json:"text"`
	Screenshot  []byte `json:"screenshot"` // marshaled as base64 by encoding/json
}

// nonNilFilters keeps filters marshaling as [] rather than null when a
// query has none.
func nonNilFilters(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// handleCreateSession mints a new client session.
func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	issued, err := a.issuer.CreateSession(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, map[string]string{
		"sessionId": issued.SessionID,
		"vapidPub":  issued.VAPIDPub,
	})
}

// handleSessionExists reports whether a session_id is known.
func (a *API) handleSessionExists(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeErr(w, apierr.DataArgument("session_id is required"))
		return
	}
	exists, err := a.store.SessionExists(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, exists)
}

// handleUpdatePushSub replaces the caller's push subscription.
func (a *API) handleUpdatePushSub(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeErr(w, apierr.DataArgument("session_id is required"))
		return
	}

	sub, err := parsePushSub(r.URL.Query().Get("push_sub"))
	if err != nil {
		writeErr(w, err)
		return
	}

	found, err := a.store.UpdateClientPushSub(r.Context(), sessionID, sub)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		writeErr(w, apierr.NotFound("unknown session"))
		return
	}
	writeData(w, nil)
}

// handleGetAdQueries lists every ad query, annotated for the caller's
// session.
func (a *API) handleGetAdQueries(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	recs, err := a.store.AdQueries(r.Context(), sessionID, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]adQueryDTO, len(recs))
	for i, rec := range recs {
		out[i] = toAdQueryDTO(rec)
	}
	writeData(w, out)
}

// handleGetAdQuery returns a single ad query record.
func (a *API) handleGetAdQuery(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	adQueryID, err := parseAdQueryID(r.URL.Query().Get("ad_query_id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	recs, err := a.store.AdQueries(r.Context(), sessionID, &adQueryID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(recs) == 0 {
		writeErr(w, apierr.NotFound("ad query not found"))
		return
	}
	writeData(w, toAdQueryDTO(recs[0]))
}

// handleGetAdQueryStatus returns an ad query plus scheduler metadata.
func (a *API) handleGetAdQueryStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	adQueryID, err := parseAdQueryID(r.URL.Query().Get("ad_query_id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	st, err := a.store.AdQueryStatus(r.Context(), sessionID, adQueryID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, adQueryStatusDTO{
		adQueryDTO: toAdQueryDTO(st.AdQueryRecord),
		NextPull:   st.NextPull,
		LastPull:   st.LastPull,
		LastError:  st.LastError,
		LastNotify: st.LastNotify,
	})
}

// handleInsertAdQuery creates a new ad query.
func (a *API) handleInsertAdQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	nickname := q.Get("nickname")
	if nickname == "" {
		writeErr(w, apierr.DataArgument("nickname is required"))
		return
	}
	queryStr := q.Get("query")
	if queryStr == "" {
		writeErr(w, apierr.DataArgument("query is required"))
		return
	}

	filters, err := parseFilters(q.Get("filters"))
	if err != nil {
		writeErr(w, err)
		return
	}
	subscribed, err := parseSubscribed(q.Get("subscribed"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var subSessionID *string
	if subscribed {
		sessionID := q.Get("session_id")
		subSessionID = &sessionID
	}

	id, err := a.store.InsertAdQuery(r.Context(), nickname, queryStr, filters, subSessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if id == nil {
		writeErr(w, apierr.DataArgument("unknown session"))
		return
	}
	writeData(w, strconv.FormatInt(*id, 10))
}

// handleUpdateAdQuery updates an existing ad query's data and
// subscription state.
func (a *API) handleUpdateAdQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	adQueryID, err := parseAdQueryID(q.Get("ad_query_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	nickname := q.Get("nickname")
	if nickname == "" {
		writeErr(w, apierr.DataArgument("nickname is required"))
		return
	}
	queryStr := q.Get("query")
	if queryStr == "" {
		writeErr(w, apierr.DataArgument("query is required"))
		return
	}
	filters, err := parseFilters(q.Get("filters"))
	if err != nil {
		writeErr(w, err)
		return
	}
	subscribed, err := parseSubscribed(q.Get("subscribed"))
	if err != nil {
		writeErr(w, err)
		return
	}
	sessionID := q.Get("session_id")

	result, err := a.store.UpdateAdQuery(r.Context(), adQueryID, nickname, queryStr, filters, subscribed, sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, map[string]bool{
		"updated_data": result.UpdatedData,
		"updated_sub":  result.UpdatedSub,
	})
}

// handleDeleteAdQuery deletes an ad query and everything that cascades
// from it.
func (a *API) handleDeleteAdQuery(w http.ResponseWriter, r *http.Request) {
	adQueryID, err := parseAdQueryID(r.URL.Query().Get("ad_query_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	deleted, err := a.store.DeleteAdQuery(r.Context(), adQueryID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, deleted)
}

// handleListAdContent lists the stored ads for a query.
func (a *API) handleListAdContent(w http.ResponseWriter, r *http.Request) {
	adQueryID, err := parseAdQueryID(r.URL.Query().Get("ad_query_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ads, err := a.store.ListAdContent(r.Context(), adQueryID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]adContentDTO, len(ads))
	for i, ad := range ads {
		out[i] = adContentDTO{
			ID:          ad.ID,
			AccountName: ad.AccountName,
			AccountURL:  ad.AccountURL,
			StartDate:   ad.StartDate,
			LastSeen:    ad.LastSeen,
			Text:        ad.Text,
			Screenshot:  ad.Screenshot,
		}
	}
	writeData(w, out)
}

// handleToggleAdQuerySubscription flips a client's subscription to a
// query.
func (a *API) handleToggleAdQuerySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	adQueryID, err := parseAdQueryID(q.Get("ad_query_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	sessionID := q.Get("session_id")
	subscribed, err := parseSubscribed(q.Get("subscribed"))
	if err != nil {
		writeErr(w, err)
		return
	}

	ok, err := a.store.ToggleAdQuerySubscription(r.Context(), adQueryID, sessionID, subscribed)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, apierr.NotFound("unknown ad query or session"))
		return
	}
	writeData(w, nil)
}

// handleHealthz is the liveness probe.
func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, "ok")
}
