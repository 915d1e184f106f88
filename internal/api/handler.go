package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
	"github.com/gyaneshwarpardhi/uebax/internal/recorder"
	"github.com/gyaneshwarpardhi/uebax/internal/rule"
	"github.com/gyaneshwarpardhi/uebax/internal/store"
)

var validate = validator.New()

const maxListLimit = 1000

type recordRequest struct {
	Actor  string `json:"actor" validate:"required,max=256"`
	Kind   string `json:"kind" validate:"required"`
	Detail string `json:"detail" validate:"max=4096"`
}

func (req recordRequest) toRequest() (recorder.Request, error) {
	k, err := event.ParseKind(req.Kind)
	if err != nil {
		return recorder.Request{}, err
	}
	return recorder.Request{Actor: req.Actor, Kind: k, Detail: req.Detail}, nil
}

// POST /v1/events
func (h *Handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toRequest()
	if err != nil {
		writeErr(w, err)
		return
	}

	res, err := h.Recorder.Record(r.Context(), in.Actor, in.Kind, in.Detail)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRecordResponse(res))
}

// POST /v1/events/batch
func (h *Handler) recordBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []recordRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}

	// Items that fail validation are reported in place; the rest are recorded.
	out := make([]batchItemResponse, len(reqs))
	var valid []recorder.Request
	var index []int
	for i, req := range reqs {
		out[i].Index = i
		if err := validate.Struct(req); err != nil {
			out[i].Error = err.Error()
			continue
		}
		in, err := req.toRequest()
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		valid = append(valid, in)
		index = append(index, i)
	}
	if len(valid) > 0 {
		items, err := h.Recorder.RecordBatch(r.Context(), valid)
		if err != nil {
			writeErr(w, err)
			return
		}
		for j, it := range items {
			i := index[j]
			if it.Err != nil {
				out[i].Error = it.Err.Error()
				continue
			}
			rr := newRecordResponse(it.Result)
			out[i].recordResponse = &rr
		}
	}

	failed := 0
	for _, it := range out {
		if it.Error != "" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  out,
		"recorded": len(out) - failed,
		"failed":   failed,
	})
}

// POST /v1/events/{id}/replay
func (h *Handler) replayEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Recorder.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(res))
}

type listQuery struct {
	Kind  string `validate:"omitempty,max=64"`
	Actor string `validate:"omitempty,max=256"`
	Limit int    `validate:"gte=0,lte=1000"`
}

// parseFilter reads kind, actor, since, until and limit.
func parseFilter(r *http.Request, parseKind func(string) (string, error)) (store.Filter, error) {
	q := r.URL.Query()
	lq := listQuery{Kind: q.Get("kind"), Actor: q.Get("actor"), Limit: 100}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return store.Filter{}, fmt.Errorf("limit: %w", err)
		}
		lq.Limit = n
	}
	if err := validate.Struct(lq); err != nil {
		return store.Filter{}, err
	}

	f := store.Filter{Actor: lq.Actor, Limit: lq.Limit}
	if f.Limit == 0 {
		f.Limit = maxListLimit
	}
	if lq.Kind != "" {
		k, err := parseKind(lq.Kind)
		if err != nil {
			return store.Filter{}, err
		}
		f.Kind = k
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if s := q.Get(name); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return store.Filter{}, fmt.Errorf("%s: %w", name, err)
			}
			*dst = t
		}
	}
	return f, nil
}

// GET /v1/events
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r, func(s string) (string, error) {
		k, err := event.ParseKind(s)
		return string(k), err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evs, err := h.Events.ListEvents(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*event.Event]{Results: evs, Count: len(evs)})
}

// GET /v1/alerts
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r, func(s string) (string, error) {
		k, err := alert.ParseKind(s)
		return string(k), err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	as, err := h.Alerts.ListAlerts(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*alert.Alert]{Results: as, Count: len(as)})
}

// GET /v1/dashboard/stats
func (h *Handler) dashboardStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.Reporter.Summary(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /v1/rules lists the active rules in evaluation order.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules := h.Recorder.Rules().Rules()
	infos := make([]rule.Info, 0, len(rules))
	for _, rl := range rules {
		infos = append(infos, rl.Info())
	}
	writeJSON(w, http.StatusOK, listResponse[rule.Info]{Results: infos, Count: len(infos)})
}

// POST /v1/rules/reload re-reads the config file and swaps the rule set.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.Reload == nil {
		writeError(w, http.StatusConflict, "no config file; rules are built in")
		return
	}
	if err := h.Reload(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"rules_count": h.Recorder.Rules().Len(),
	})
}

// GET /healthz is always 200 (liveness check).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz is 503 while any store is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.Pingers))
	ready := true
	for name, p := range h.Pingers {
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "checks": checks})
}
