// Package httpapi exposes an entity's Service over HTTP with chi.
//
//	POST   /       insert            201 {"id": "..."}
//	GET    /       find              200 [...]   (?field=value&limit=&skip=&sort=-field)
//	GET    /{id}   get by id         200 {...}
//	PATCH  /{id}   update by id      200 {"matched_count": n, "modified_count": n}
//	DELETE /{id}   delete by id      200 {"delete_count": n}
//
// PATCH bodies set every field they carry; a JSON null unsets the field.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jacentio/lattice/store"
)

// Options configures the mounted routes.
type Options struct {
	// IDFields lists the document fields holding references. Their hex
	// string values in bodies and query parameters are parsed into ids.
	IDFields []string

	// MaxLimit caps the page size of GET /.
	// Default: 100
	MaxLimit int64

	// Logger receives server-side failures. Nil uses the service's logger.
	Logger *slog.Logger
}

type handler struct {
	svc    *store.Service
	opts   Options
	logger *slog.Logger
}

// Mount registers the entity routes of svc on r.
func Mount(r chi.Router, svc *store.Service, opts Options) {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = svc.Logger()
	}
	h := &handler{svc: svc, opts: opts, logger: logger}

	r.Post("/", h.handleInsert)
	r.Get("/", h.handleFind)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
	})
}

// NewRouter returns a router serving each service under /{name}.
func NewRouter(services []*store.Service, opts Options) http.Handler {
	r := chi.NewRouter()
	for _, svc := range services {
		r.Route("/"+svc.Name(), func(r chi.Router) {
			Mount(r, svc, opts)
		})
	}
	return r
}

func (h *handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	doc, err := h.decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}

	res, err := h.svc.Insert(r.Context(), doc, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": res.ID})
}

func (h *handler) handleFind(w http.ResponseWriter, r *http.Request) {
	filter, opts, err := h.parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	docs, err := h.svc.FindAll(r.Context(), filter, opts, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := h.svc.GetByID(r.Context(), id, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := h.decodeBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	upd := store.Update{Set: store.Document{}}
	for k, v := range body {
		if v == nil {
			upd.Unset = append(upd.Unset, k)
			continue
		}
		upd.Set[k] = v
	}
	slices.Sort(upd.Unset)

	res, err := h.svc.UpdateByID(r.Context(), id, upd, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matched_count":  res.Matched,
		"modified_count": res.Modified,
	})
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.DeleteByID(r.Context(), id, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delete_count": res.Deleted})
}

// decodeBody reads a JSON object and parses the reference fields.
func (h *handler) decodeBody(r *http.Request) (store.Document, error) {
	var doc store.Document
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if doc == nil {
		return nil, errors.New("invalid payload: expected a JSON object")
	}
	if _, ok := doc[store.IDField]; ok {
		return nil, fmt.Errorf("invalid payload: %s is assigned by the server", store.IDField)
	}

	for k, v := range doc {
		switch x := v.(type) {
		case json.Number:
			doc[k] = number(x)
		case string:
			if h.isIDField(k) {
				id, err := store.ParseID(x)
				if err != nil {
					return nil, err
				}
				doc[k] = id
			}
		}
	}
	return doc, nil
}

// parseQuery turns query parameters into an equality filter and find options.
func (h *handler) parseQuery(r *http.Request) (store.Filter, store.FindOptions, error) {
	opts := store.FindOptions{Limit: h.opts.MaxLimit}
	var filter store.Filter

	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value := q.Get(key)
		switch key {
		case "limit":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, opts, fmt.Errorf("invalid limit %q", value)
			}
			if n > 0 && n < h.opts.MaxLimit {
				opts.Limit = n
			}
		case "skip":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, opts, fmt.Errorf("invalid skip %q", value)
			}
			opts.Skip = n
		case "sort":
			for _, field := range strings.Split(value, ",") {
				desc := strings.HasPrefix(field, "-")
				field = strings.TrimPrefix(field, "-")
				if field != "" {
					opts.Sort = append(opts.Sort, store.SortField{Field: field, Desc: desc})
				}
			}
		default:
			if h.isIDField(key) || key == store.IDField {
				if value == "" {
					filter = store.And(filter, store.Missing(key))
					continue
				}
				id, err := store.ParseID(value)
				if err != nil {
					return nil, opts, err
				}
				filter = store.And(filter, store.Eq(key, id))
				continue
			}
			filter = store.And(filter, store.Eq(key, value))
		}
	}
	return filter, opts, nil
}

func (h *handler) isIDField(field string) bool {
	return slices.Contains(h.opts.IDFields, field)
}

// number keeps integers integral.
func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

// --- Responses ---

// statusOf maps the error taxonomy to HTTP statuses.
func statusOf(err error) int {
	// The outermost delete error decides: a child's veto inside a cascade is
	// a cascade failure for the parent.
	if kind, ok := store.DeleteKindOf(err); ok {
		if kind == store.DeleteDenied {
			return http.StatusConflict
		}
		return http.StatusFailedDependency
	}
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, store.ErrInvalidUpdate):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"entity", h.svc.Name(),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
