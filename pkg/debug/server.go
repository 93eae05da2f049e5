// Package debug serves a read-only HTTP status surface for the package
// subsystem: what is available, what is loaded, how a package's
// dependencies resolve, and Prometheus metrics. It never drives load or
// unload paths.
package debug

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/emberforge/ember/pkg/engine"
	"github.com/emberforge/ember/pkg/packages"
)

// Server exposes the status endpoints.
type Server struct {
	manager *packages.Manager
	router  *mux.Router
	log     *logrus.Logger
}

// NewServer creates the status server. promRegistry may be nil to omit the
// /metrics endpoint.
func NewServer(manager *packages.Manager, promRegistry *prometheus.Registry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		manager: manager,
		router:  mux.NewRouter(),
		log:     log,
	}

	s.router.HandleFunc("/debug/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/packages", s.handlePackages).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/packages/{name}", s.handlePackage).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/packages/{name}/dependencies", s.handleDependencies).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/plugins", s.handlePlugins).Methods(http.MethodGet)
	if promRegistry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("Debug server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("Failed to encode debug response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"engineVersion":    engine.Version,
		"pluginABIVersion": engine.PluginABIVersion,
		"lastError":        s.manager.LastError(),
	})
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"available": s.manager.AvailablePackages(),
		"loaded":    s.manager.LoadedPackages(),
	})
}

func (s *Server) handlePackage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pkg, ok := s.manager.Package(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "package not loaded: " + name,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.writeJSON(w, http.StatusOK, map[string]any{
		"resolution": s.manager.CheckDependencies(name),
		"loadOrder":  s.manager.DependencyOrder(name),
		"circular":   s.manager.HasCircularDependency(name),
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	loader := s.manager.PluginLoader()
	infos := make([]any, 0)
	for _, name := range loader.LoadedPlugins() {
		if info, ok := loader.PluginInfo(name); ok {
			infos = append(infos, info)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plugins":   infos,
		"lastError": loader.LastError(),
	})
}
