// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides an in-process HSDS-style server for exercising
// the client against real HTTP exchanges. The server keeps its state in
// memory and records every request it serves so tests can assert on round
// trips (cache hits, batch counts, negative caching).
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Object is the server-side state of one stored object.
type Object struct {
	ID         string
	Attributes map[string]map[string]any
	Links      map[string]map[string]any
	Shape      map[string]any
	Type       any
	Value      []byte
	Created    float64
}

// Server is an in-memory HSDS lookalike bound to an httptest listener.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	root     string
	domain   string
	objects  map[string]*Object
	requests []string

	// DomainObjs, when true, includes a consolidated object snapshot in
	// the domain GET response (the getobjs open optimization).
	DomainObjs bool

	failMethod string
	failPath   string
	failStatus int

	valueSelects map[string][]string
}

// New starts a server with an existing domain rooted at a fresh group.
func New() *Server {
	s := &Server{
		objects:      make(map[string]*Object),
		valueSelects: make(map[string][]string),
	}

	s.root = MintID("g")
	s.domain = "/home/test/data.h5"
	s.objects[s.root] = newObject(s.root)

	r := mux.NewRouter()
	r.Use(s.record)

	r.HandleFunc("/about", s.handleAbout).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleDomain)
	r.HandleFunc("/{collection:groups|datasets|datatypes}", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/links/{title}", s.handleLink).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/groups/{id}/links", s.handleLinkBatch).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/{collection}/{id}/attributes/{name}", s.handleAttr).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/{collection}/{id}/attributes", s.handleAttrBatch).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/datasets/{id}/shape", s.handleShape).Methods(http.MethodPut)
	r.HandleFunc("/datasets/{id}/value", s.handleValue).Methods(http.MethodPut)
	r.HandleFunc("/{collection}/{id}", s.handleObject).Methods(http.MethodGet, http.MethodDelete)

	s.Server = httptest.NewServer(r)

	return s
}

// MintID returns a fresh identifier with the given collection prefix.
func MintID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Root returns the root group identifier of the served domain.
func (s *Server) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.root
}

// Domain returns the domain path the server answers for.
func (s *Server) Domain() string { return s.domain }

// Object returns the stored object with the given id, or nil.
func (s *Server) Object(id string) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.objects[id]
}

// AddGroup stores an empty group and returns it.
func (s *Server) AddGroup(id string) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := newObject(id)
	s.objects[id] = obj

	return obj
}

// AddDataset stores a dataset with the given type and shape.
func (s *Server) AddDataset(id string, typeJSON any, dims []uint64) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := newObject(id)
	obj.Type = typeJSON
	obj.Shape = map[string]any{"class": "H5S_SIMPLE", "dims": dims}
	s.objects[id] = obj

	return obj
}

// SetLink installs a hard link from parent to target.
func (s *Server) SetLink(parent, title, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[parent].Links[title] = map[string]any{
		"class":   "H5L_TYPE_HARD",
		"id":      target,
		"created": now(),
	}
}

// Requests returns the request log ("METHOD /path" per entry).
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.requests))
	copy(out, s.requests)

	return out
}

// Count returns the number of logged requests matching the method and path
// prefix.
func (s *Server) Count(method, pathPrefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, r := range s.requests {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}

	return n
}

// ResetLog clears the request log.
func (s *Server) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = nil
}

// Fail makes every request matching method and path prefix return the given
// status until cleared with Fail("", "", 0).
func (s *Server) Fail(method, pathPrefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failMethod = method
	s.failPath = pathPrefix
	s.failStatus = status
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		fail := s.failStatus != 0 &&
			(s.failMethod == "" || s.failMethod == r.Method) &&
			strings.HasPrefix(r.URL.Path, s.failPath)
		s.mu.Unlock()

		if fail {
			w.WriteHeader(s.failStatus)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func newObject(id string) *Object {
	return &Object{
		ID:         id,
		Attributes: make(map[string]map[string]any),
		Links:      make(map[string]map[string]any),
		Created:    now(),
	}
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "hsgo test server",
		"hsds_version": "0.0-test",
		"state":        "READY",
	})
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if s.root == "" {
			writeJSON(w, http.StatusNotFound, map[string]any{})

			return
		}

		body := map[string]any{
			"root":         s.root,
			"owner":        "test",
			"created":      now(),
			"lastModified": now(),
		}

		if s.DomainObjs && r.URL.Query().Get("getobjs") != "" {
			objs := map[string]any{}
			for id, obj := range s.objects {
				objs[id] = s.objectJSON(obj)
			}

			body["domain_objs"] = objs
		}

		writeJSON(w, http.StatusOK, body)
	case http.MethodPut:
		if s.root == "" {
			s.root = MintID("g")
			s.objects[s.root] = newObject(s.root)
		}

		writeJSON(w, http.StatusCreated, map[string]any{"root": s.root})
	case http.MethodDelete:
		s.root = ""
		s.objects = make(map[string]*Object)
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// objectJSON renders an object the way HSDS does, including the server-side
// bookkeeping keys the client is expected to strip.
func (s *Server) objectJSON(obj *Object) map[string]any {
	body := map[string]any{
		"id":             obj.ID,
		"root":           s.root,
		"domain":         s.domain,
		"created":        obj.Created,
		"lastModified":   now(),
		"attributeCount": len(obj.Attributes),
		"hrefs":          []any{map[string]any{"rel": "self", "href": "/"}},
		"attributes":     obj.Attributes,
	}

	if strings.HasPrefix(obj.ID, "g-") {
		body["links"] = obj.Links
		body["linkCount"] = len(obj.Links)
	}

	if obj.Shape != nil {
		body["shape"] = obj.Shape
	}

	if obj.Type != nil {
		body["type"] = obj.Type
	}

	return body
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := mux.Vars(r)["id"]

	obj, ok := s.objects[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{})

		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.objectJSON(obj))
	case http.MethodDelete:
		delete(s.objects, id)
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collection := mux.Vars(r)["collection"]
	prefix := map[string]string{"groups": "g", "datasets": "d", "datatypes": "t"}[collection]

	data, _ := io.ReadAll(r.Body)

	// batch creation sends a list of items, single creation an object
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		var single map[string]any
		if err := json.Unmarshal(data, &single); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{})

			return
		}

		items = []map[string]any{single}
	}

	var created []string

	for _, item := range items {
		id, _ := item["id"].(string)
		if id == "" {
			id = MintID(prefix)
		}

		obj := newObject(id)
		if shape, ok := item["shape"]; ok {
			if dims, ok := shape.([]any); ok {
				obj.Shape = map[string]any{"class": "H5S_SIMPLE", "dims": dims}
			} else {
				obj.Shape, _ = shape.(map[string]any)
			}
		}

		obj.Type = item["type"]
		s.objects[id] = obj
		created = append(created, id)
	}

	if len(created) == 1 {
		writeJSON(w, http.StatusCreated, s.objectJSON(s.objects[created[0]]))

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ids": created})
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := mux.Vars(r)

	obj, ok := s.objects[vars["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{})

		return
	}

	switch r.Method {
	case http.MethodPut:
		var link map[string]any
		if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{})

			return
		}

		obj.Links[vars["title"]] = link
		writeJSON(w, http.StatusCreated, map[string]any{})
	case http.MethodDelete:
		if _, ok := obj.Links[vars["title"]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{})

			return
		}

		delete(obj.Links, vars["title"])
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) handleLinkBatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		// {"grp_ids": {id: {"links": {title: link}}}}
		var body struct {
			GrpIDs map[string]struct {
				Links map[string]map[string]any `json:"links"`
			} `json:"grp_ids"`
		}

		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{})

			return
		}

		for id, entry := range body.GrpIDs {
			obj, ok := s.objects[id]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{})

				return
			}

			for title, link := range entry.Links {
				obj.Links[title] = link
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{})
	case http.MethodDelete:
		obj, ok := s.objects[mux.Vars(r)["id"]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{})

			return
		}

		for _, title := range strings.Split(r.URL.Query().Get("titles"), "/") {
			delete(obj.Links, title)
		}

		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) handleAttr(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := mux.Vars(r)

	obj, ok := s.objects[vars["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{})

		return
	}

	switch r.Method {
	case http.MethodPut:
		var attr map[string]any
		if err := json.NewDecoder(r.Body).Decode(&attr); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{})

			return
		}

		obj.Attributes[vars["name"]] = attr
		writeJSON(w, http.StatusCreated, map[string]any{})
	case http.MethodDelete:
		if _, ok := obj.Attributes[vars["name"]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{})

			return
		}

		delete(obj.Attributes, vars["name"])
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) handleAttrBatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		// {"obj_ids": {id: {"attributes": {name: attr}}}}
		var body struct {
			ObjIDs map[string]struct {
				Attributes map[string]map[string]any `json:"attributes"`
			} `json:"obj_ids"`
		}

		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{})

			return
		}

		for id, entry := range body.ObjIDs {
			obj, ok := s.objects[id]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{})

				return
			}

			for name, attr := range entry.Attributes {
				obj.Attributes[name] = attr
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{})
	case http.MethodDelete:
		obj, ok := s.objects[mux.Vars(r)["id"]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{})

			return
		}

		sep := r.URL.Query().Get("separator")
		if sep == "" {
			sep = "/"
		}

		for _, name := range strings.Split(r.URL.Query().Get("attr_names"), sep) {
			delete(obj.Attributes, name)
		}

		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) handleShape(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{})

		return
	}

	var body struct {
		Shape []uint64 `json:"shape"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{})

		return
	}

	if obj.Shape == nil {
		obj.Shape = map[string]any{"class": "H5S_SIMPLE"}
	}

	obj.Shape["dims"] = body.Shape
	writeJSON(w, http.StatusCreated, map[string]any{})
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{})

		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{})

		return
	}

	obj.Value = data
	s.valueSelects[obj.ID] = append(s.valueSelects[obj.ID], r.URL.Query().Get("select"))

	writeJSON(w, http.StatusOK, map[string]any{})
}

// ValueSelects returns the select query params seen by value writes against
// the given dataset, in order. A full-extent write records an empty string.
func (s *Server) ValueSelects(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.valueSelects[id]
}

// URLFor is a convenience for building absolute request paths in tests.
func (s *Server) URLFor(format string, args ...any) string {
	return s.URL + fmt.Sprintf(format, args...)
}
