// Package api serves stored datasets and their aggregates as read-only
// HTTP JSON. Consumers never touch the container file directly; this surface
// is the contract.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"

	"github.com/amperelab/cellkit/internal/cell"
	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/httputil"
	"github.com/amperelab/cellkit/internal/monitoring"
	"github.com/amperelab/cellkit/internal/store"
	"github.com/amperelab/cellkit/internal/summary"
)

// Server exposes one container over HTTP.
type Server struct {
	db    *store.DB
	cache *summary.Cache
}

// NewServer returns a server over db.
func NewServer(db *store.DB) *Server {
	return &Server{db: db, cache: summary.NewCache()}
}

// ServeMux routes the read-only API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datasets", s.listDatasets)
	mux.HandleFunc("GET /api/datasets/{id}", s.getDataset)
	mux.HandleFunc("GET /api/datasets/{id}/samples", s.getSamples)
	mux.HandleFunc("GET /api/datasets/{id}/summary", s.getSummary)
	mux.HandleFunc("GET /api/datasets/{id}/steps", s.getSteps)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("cellkit container API\n"))
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	infos, err := s.db.List(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("listing datasets: %v", err))
		return
	}
	if infos == nil {
		infos = []store.DatasetInfo{}
	}
	httputil.WriteJSONOK(w, infos)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseHandle(w, r)
	if !ok {
		return
	}
	info, err := s.db.Info(r.Context(), handle)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, info)
}

func (s *Server) getSamples(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseHandle(w, r)
	if !ok {
		return
	}
	sel, err := selectorFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ds, err := s.db.Load(r.Context(), handle, sel)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ds)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseHandle(w, r)
	if !ok {
		return
	}
	records, err := s.summaries(r.Context(), handle)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, records)
}

// summaries serves cached records when present and computes, caches, and
// persists them otherwise.
func (s *Server) summaries(ctx context.Context, handle store.Handle) ([]cell.SummaryRecord, error) {
	cached, err := s.db.LoadSummaries(ctx, handle)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		return cached, nil
	}
	ds, err := s.db.Load(ctx, handle, store.All())
	if err != nil {
		return nil, err
	}
	records := s.cache.Summarize(ds)
	if err := s.db.SaveSummaries(ctx, handle, records); err != nil {
		monitoring.Logf("api: caching summaries for %s failed: %v", handle, err)
	}
	if records == nil {
		records = []cell.SummaryRecord{}
	}
	return records, nil
}

func (s *Server) getSteps(w http.ResponseWriter, r *http.Request) {
	handle, ok := parseHandle(w, r)
	if !ok {
		return
	}
	ds, err := s.db.Load(r.Context(), handle, store.All())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	records := summary.Steps(ds)
	if records == nil {
		records = []cell.StepRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

// AttachAdminRoutes mounts a SQL debugging console against the container.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux, containerPath string) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("creating tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+containerPath, s.db.DB, &tailsql.DBOptions{
		Label: "Cell container",
	})
	mux.Handle("/debug/tailsql/", tsql.NewMux())
	return nil
}

func parseHandle(w http.ResponseWriter, r *http.Request) (store.Handle, bool) {
	handle, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid dataset handle: %v", err))
		return uuid.Nil, false
	}
	return handle, true
}

func selectorFromQuery(r *http.Request) (store.Selector, error) {
	var sel store.Selector
	q := r.URL.Query()
	if v := q.Get("cycle_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return sel, fmt.Errorf("invalid cycle_min %q", v)
		}
		sel.CycleMin = &n
	}
	if v := q.Get("cycle_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return sel, fmt.Errorf("invalid cycle_max %q", v)
		}
		sel.CycleMax = &n
	}
	for _, st := range q["step_type"] {
		t := cell.StepType(st)
		if !t.IsValid() {
			return sel, fmt.Errorf("invalid step_type %q", st)
		}
		sel.StepTypes = append(sel.StepTypes, t)
	}
	return sel, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	var iv *cellerr.IncompatibleVersionError
	var nu *cellerr.NoUpgradePathError
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.As(err, &iv), errors.As(err, &nu):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}
