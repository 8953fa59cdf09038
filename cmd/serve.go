package cmd

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"stepflow/api"
	"stepflow/runner"
	"stepflow/runner/storage"
)

// Serve starts the HTTP server with the run history API, the event stream
// and the scheduler.
func Serve() error {
	// Load .env if present.
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get current directory: %v", err)
	}

	dataDir := filepath.Join(cwd, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := storage.NewStorage(filepath.Join(dataDir, "stepflow.db"))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	projectsPath := filepath.Join(cwd, "projects.yml")
	projectsConfig, err := runner.LoadProjects(projectsPath)
	if err != nil {
		log.Printf("Warning: failed to load projects config: %v", err)
		projectsConfig = &runner.ProjectsConfig{}
	} else {
		log.Printf("Loaded %d project(s)", len(projectsConfig.Projects))
	}

	scheduler := runner.NewScheduler(projectsConfig, store, cwd)
	go scheduler.Start()
	defer scheduler.Stop()

	mux := http.NewServeMux()

	corsMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	mux.HandleFunc("/api/runs", api.GetRuns(store))
	mux.HandleFunc("/api/runs/", api.GetRun(store))
	mux.HandleFunc("/api/run", api.PostRun(store))
	mux.HandleFunc("/api/events", api.SSEHandler())

	mux.HandleFunc("/api/projects", api.GetProjects(projectsConfig, cwd))
	mux.HandleFunc("/api/projects/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/runs"):
			api.GetProjectRuns(store)(w, r)
		case strings.HasSuffix(r.URL.Path, "/stats"):
			api.GetProjectStats(store)(w, r)
		case strings.HasSuffix(r.URL.Path, "/run"):
			api.PostProjectRun(store, projectsConfig, cwd)(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	log.Printf("Starting stepflow server on port %s", port)

	if err := http.ListenAndServe(":"+port, corsMiddleware(mux)); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
