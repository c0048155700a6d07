// Package estest provides an in-memory stand-in for the handful of
// Elasticsearch endpoints the store uses. Documents only become searchable
// after a refresh, like the real engine.
package estest

import (
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

type Request struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

type document struct {
	ID       string                 `json:"-"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Vector   []float64              `json:"vector"`
}

// Server is a fake Elasticsearch cluster holding any number of indices.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	indices  map[string]bool
	pending  map[string]map[string]document
	visible  map[string]map[string]document
	requests []Request

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	// FailBulk makes every bulk item report a mapping error.
	FailBulk bool
}

func NewServer() *Server {
	s := &Server{
		indices: make(map[string]bool),
		pending: make(map[string]map[string]document),
		visible: make(map[string]map[string]document),
		conns:   make(map[net.Conn]struct{}),
	}
	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(s.handle))
	s.Server.Config.ConnState = s.trackConn
	s.Server.Start()
	return s
}

func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	switch state {
	case http.StateNew:
		s.conns[conn] = struct{}{}
	case http.StateClosed, http.StateHijacked:
		delete(s.conns, conn)
	}
}

// OpenConns returns the number of client connections not yet closed.
func (s *Server) OpenConns() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Visible returns the number of searchable documents in index.
func (s *Server) Visible(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visible[index])
}

// Pending returns the number of written but unrefreshed documents in index.
func (s *Server) Pending(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[index])
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	// product check
	if r.URL.Path == "/" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":         "estest",
			"cluster_name": "estest",
			"version":      map[string]string{"number": "8.17.0", "build_flavor": "default"},
			"tagline":      "You Know, for Search",
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	index := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodHead:
		if s.indices[index] {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}

	case len(parts) == 1 && r.Method == http.MethodPut:
		s.indices[index] = true
		writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true, "index": index})

	case len(parts) == 2 && parts[1] == "_bulk":
		s.bulk(w, index, body)

	case len(parts) == 2 && parts[1] == "_refresh":
		for id, doc := range s.pending[index] {
			if s.visible[index] == nil {
				s.visible[index] = make(map[string]document)
			}
			s.visible[index][id] = doc
		}
		delete(s.pending, index)
		writeJSON(w, http.StatusOK, map[string]interface{}{"_shards": map[string]int{"total": 1, "successful": 1, "failed": 0}})

	case len(parts) == 2 && parts[1] == "_search":
		s.search(w, index, body)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "unsupported request " + r.Method + " " + r.URL.Path})
	}
}

func (s *Server) bulk(w http.ResponseWriter, defaultIndex string, body []byte) {
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	var items []map[string]interface{}

	for i := 0; i+1 < len(lines); i += 2 {
		var action struct {
			Index struct {
				Index string `json:"_index"`
				ID    string `json:"_id"`
			} `json:"index"`
		}
		var doc document
		if err := json.Unmarshal([]byte(lines[i]), &action); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		if err := json.Unmarshal([]byte(lines[i+1]), &doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}

		index := action.Index.Index
		if index == "" {
			index = defaultIndex
		}
		doc.ID = action.Index.ID

		if s.FailBulk {
			items = append(items, map[string]interface{}{"index": map[string]interface{}{
				"_id":    doc.ID,
				"status": 400,
				"error":  map[string]string{"type": "mapper_parsing_exception", "reason": "failed to parse field [vector]"},
			}})
			continue
		}

		s.indices[index] = true
		if s.pending[index] == nil {
			s.pending[index] = make(map[string]document)
		}
		s.pending[index][doc.ID] = doc
		items = append(items, map[string]interface{}{"index": map[string]interface{}{"_id": doc.ID, "status": 201}})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"took": 1, "errors": s.FailBulk, "items": items})
}

type knnClause struct {
	QueryVector []float64 `json:"query_vector"`
	K           int       `json:"k"`
}

type searchBody struct {
	Size      int        `json:"size"`
	KNN       *knnClause `json:"knn"`
	Retriever *struct {
		RRF struct {
			Retrievers []struct {
				Standard *struct {
					Query struct {
						Match map[string]struct {
							Query string `json:"query"`
						} `json:"match"`
					} `json:"query"`
				} `json:"standard"`
				KNN *knnClause `json:"knn"`
			} `json:"retrievers"`
		} `json:"rrf"`
	} `json:"retriever"`
}

type hit struct {
	doc   document
	score float64
}

func (s *Server) search(w http.ResponseWriter, index string, body []byte) {
	if !s.indices[index] {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": map[string]string{"type": "index_not_found_exception"}})
		return
	}

	var req searchBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	docs := make([]document, 0, len(s.visible[index]))
	for _, d := range s.visible[index] {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	var hits []hit
	switch {
	case req.KNN != nil:
		hits = rankByVector(docs, req.KNN.QueryVector)
	case req.Retriever != nil:
		var lists [][]hit
		for _, r := range req.Retriever.RRF.Retrievers {
			if r.KNN != nil {
				lists = append(lists, rankByVector(docs, r.KNN.QueryVector))
			}
			if r.Standard != nil {
				for _, m := range r.Standard.Query.Match {
					lists = append(lists, rankByTerms(docs, m.Query))
				}
			}
		}
		hits = fuse(lists)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "no knn or retriever clause"})
		return
	}

	if req.Size > 0 && len(hits) > req.Size {
		hits = hits[:req.Size]
	}

	out := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]interface{}{
			"_index":  index,
			"_id":     h.doc.ID,
			"_score":  h.score,
			"_source": map[string]interface{}{"text": h.doc.Text, "metadata": h.doc.Metadata},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(out), "relation": "eq"},
			"hits":  out,
		},
	})
}

func rankByVector(docs []document, query []float64) []hit {
	hits := make([]hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, hit{doc: d, score: cosine(d.Vector, query)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	return hits
}

func rankByTerms(docs []document, query string) []hit {
	terms := strings.Fields(strings.ToLower(query))
	var hits []hit
	for _, d := range docs {
		text := strings.ToLower(d.Text)
		score := 0.0
		for _, t := range terms {
			if strings.Contains(text, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{doc: d, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	return hits
}

func fuse(lists [][]hit) []hit {
	scores := make(map[string]*hit)
	var order []string
	for _, list := range lists {
		for rank, h := range list {
			s := 1.0 / float64(60+rank+1)
			if existing, ok := scores[h.doc.ID]; ok {
				existing.score += s
				continue
			}
			scores[h.doc.ID] = &hit{doc: h.doc, score: s}
			order = append(order, h.doc.ID)
		}
	}
	out := make([]hit, 0, len(order))
	for _, id := range order {
		out = append(out, *scores[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
