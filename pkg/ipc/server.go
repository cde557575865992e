// Package ipc exposes a catalog over HTTP on a Unix socket or a loopback TCP
// address so tools in other languages can fetch datasets through the shared
// cache.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"example.com/datacatalog/pkg/catalog"
)

const (
	defaultListen   = "127.0.0.1:8484"
	shutdownTimeout = 5 * time.Second
)

// DatasetEntry is the /datasets view of one dataset.
type DatasetEntry struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	CachePath   string `json:"cache_path,omitempty"`
	Description string `json:"description,omitempty"`
	Glob        bool   `json:"glob"`
}

// StatusEntry is the /status view of one object.
type StatusEntry struct {
	Identifier string `json:"identifier"`
	Key        string `json:"key"`
	Path       string `json:"path"`
	Verdict    string `json:"verdict"`
	Error      string `json:"error,omitempty"`
}

// FetchResponse is returned by /fetch. On partial failure it is sent with
// status 502 and Failed lists the identifiers that could not be fetched.
type FetchResponse struct {
	catalog.Result
	Error  string   `json:"error,omitempty"`
	Failed []string `json:"failed,omitempty"`
}

// Server serves one catalog.
type Server struct {
	catalog *catalog.Catalog
	log     *zap.Logger
}

// NewServer constructs a server bound to the provided catalog.
func NewServer(c *catalog.Catalog, log *zap.Logger) (*Server, error) {
	if c == nil {
		return nil, errors.New("catalog is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{catalog: c, log: log}, nil
}

// Handler returns an http.Handler exposing /datasets, /status, /fetch,
// /invalidate and /stats.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/datasets", s.only(http.MethodGet, s.handleDatasets))
	mux.HandleFunc("/status", s.only(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/fetch", s.only(http.MethodPost, s.handleFetch))
	mux.HandleFunc("/invalidate", s.only(http.MethodPost, s.handleInvalidate))
	mux.HandleFunc("/stats", s.only(http.MethodGet, s.handleStats))
	return mux
}

// Serve listens on the provided socket or TCP address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, socketPath, listenAddr string) error {
	if socketPath == "" && listenAddr == "" {
		listenAddr = defaultListen
	}
	l, err := createListener(socketPath, listenAddr)
	if err != nil {
		return err
	}
	defer l.Close()
	s.log.Info("serving", zap.String("addr", l.Addr().String()))

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		if serveErr := server.Serve(l); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if socketPath != "" {
			_ = os.Remove(socketPath)
		}
		return ctx.Err()
	case serveErr := <-errCh:
		return serveErr
	}
}

func (s *Server) only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeHTTPError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s requires %s", r.URL.Path, method))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets := s.catalog.Datasets()
	out := make([]DatasetEntry, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, DatasetEntry{
			Name:        ds.Name,
			Source:      ds.Source,
			CachePath:   ds.CachePath,
			Description: ds.Description,
			Glob:        ds.IsGlob(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	statuses, err := s.catalog.Status(r.Context(), name)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	out := make([]StatusEntry, 0, len(statuses))
	for _, st := range statuses {
		entry := StatusEntry{
			Identifier: st.Identifier,
			Key:        st.Key,
			Path:       st.Path,
			Verdict:    st.State,
		}
		if st.Err != nil {
			entry.Error = st.Err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	res, err := s.catalog.Fetch(r.Context(), name)
	var fe *catalog.FetchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, FetchResponse{Result: res})
	case errors.As(err, &fe):
		s.log.Warn("partial fetch", zap.String("dataset", name), zap.Strings("failed", fe.Failed()))
		writeJSON(w, http.StatusBadGateway, FetchResponse{Result: res, Error: err.Error(), Failed: fe.Failed()})
	default:
		s.writeErrorFor(w, err)
	}
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	n, err := s.catalog.Invalidate(r.Context(), name)
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": name, "removed": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.catalog.Stats()
	if err != nil {
		s.writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"root":  s.catalog.CacheDir().Root(),
		"files": st.Files,
		"bytes": st.Bytes,
	})
}

func requireName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeHTTPError(w, http.StatusBadRequest, "name query parameter is required")
		return "", false
	}
	return name, true
}

func createListener(socketPath, listenAddr string) (net.Listener, error) {
	if socketPath != "" {
		if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
			return nil, fmt.Errorf("prepare socket dir: %w", err)
		}
		if err := os.RemoveAll(socketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		l, err := net.Listen("unix", socketPath)
		if err != nil {
			return nil, fmt.Errorf("unix listen: %w", err)
		}
		return l, nil
	}
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	return l, nil
}

// StatusFor maps a catalog error to an HTTP status code.
func StatusFor(err error) int {
	var fe *catalog.FetchError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadGateway
	case errors.Is(err, catalog.ErrUnknownDataset), catalog.IsKind(err, catalog.KindNotFound):
		return http.StatusNotFound
	case catalog.IsKind(err, catalog.KindAccess):
		return http.StatusForbidden
	case catalog.IsKind(err, catalog.KindConfig):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeErrorFor(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeHTTPError(w, status, err.Error())
}
