package http

import (
	"net/http"
	"strings"
)

const (
	sessionsPrefix = "/api/sessions/"
	uploadsPrefix  = "/uploads/customers/"
)

type RouterConfig struct {
	Sessions *SessionHandler
	Photos   *PhotoHandler
	Records  *RecordHandler
	Backups  *BackupHandler

	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler

	// Uploads serves stored photos under UploadsPrefix when set.
	Uploads       http.Handler
	UploadsPrefix string

	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		Healthz(w, r)
	})

	if cfg.Sessions != nil {
		mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Sessions.List(w, r)
			case http.MethodPost:
				cfg.Sessions.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc(sessionsPrefix, func(w http.ResponseWriter, r *http.Request) {
			id, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, sessionsPrefix), "/")
			if id == "" {
				http.NotFound(w, r)
				return
			}
			ctx := ContextWithSessionID(r.Context(), id)
			r = r.WithContext(ctx)
			routeSession(cfg, w, r, action)
		})
		mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Sessions.Stats(w, r)
		})
		mux.HandleFunc("/api/time-options", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Sessions.TimeOptions(w, r)
		})
	}

	if cfg.Records != nil {
		mux.HandleFunc("/api/records", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Records.List(w, r)
		})
	}

	if cfg.Backups != nil {
		mux.HandleFunc("/api/export", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Backups.Export(w, r)
		})
		mux.HandleFunc("/api/export.csv", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Backups.ExportCSV(w, r)
		})
		mux.HandleFunc("/api/import", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Backups.Import(w, r)
		})
	}

	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}
	if cfg.Uploads != nil {
		prefix := strings.TrimSuffix(cfg.UploadsPrefix, "/") + "/"
		if prefix == "/" {
			prefix = uploadsPrefix
		}
		mux.Handle(prefix, http.StripPrefix(prefix, cfg.Uploads))
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

func routeSession(cfg RouterConfig, w http.ResponseWriter, r *http.Request, action string) {
	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			cfg.Sessions.Get(w, r)
		case http.MethodPut:
			cfg.Sessions.EditTime(w, r)
		case http.MethodDelete:
			cfg.Sessions.Delete(w, r)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case "extend", "checkout", "finish":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		switch action {
		case "extend":
			cfg.Sessions.Extend(w, r)
		case "checkout":
			cfg.Sessions.CheckOut(w, r)
		default:
			cfg.Sessions.Finish(w, r)
		}
	case "photo":
		if cfg.Photos == nil {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost:
			cfg.Photos.Upload(w, r)
		case http.MethodDelete:
			cfg.Photos.Remove(w, r)
		default:
			methodNotAllowed(w, http.MethodPost, http.MethodDelete)
		}
	default:
		http.NotFound(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
