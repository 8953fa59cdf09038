package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"stepflow/events"
	"stepflow/runner"
	"stepflow/runner/storage"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// GetRuns returns the most recent runs.
func GetRuns(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		runs, err := store.GetRuns(100)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get runs: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, runs)
	}
}

// GetRun returns a single run with its step executions.
func GetRun(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Path: /api/runs/:id
		pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(pathParts) < 3 {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		runID, err := strconv.ParseInt(pathParts[2], 10, 64)
		if err != nil {
			http.Error(w, "Invalid run ID", http.StatusBadRequest)
			return
		}

		run, err := store.GetRun(runID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Run not found: %v", err), http.StatusNotFound)
			return
		}

		steps, err := store.GetStepExecutions(runID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get steps: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, struct {
			Run   *storage.Run             `json:"run"`
			Steps []*storage.StepExecution `json:"steps"`
		}{Run: run, Steps: steps})
	}
}

// PostRun triggers a run of an arbitrary pipeline config path.
func PostRun(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			ConfigPath string `json:"config_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfigPath == "" {
			http.Error(w, "Request body must carry config_path", http.StatusBadRequest)
			return
		}

		go triggerRun(store, req.ConfigPath, "")

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "started"})
	}
}

// GetProjects returns the project registry, with validation state per
// project.
func GetProjects(projectsConfig *runner.ProjectsConfig, baseDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		type projectInfo struct {
			runner.Project
			Valid bool `json:"valid"`
		}

		infos := make([]projectInfo, 0, len(projectsConfig.Projects))
		for _, p := range projectsConfig.Projects {
			infos = append(infos, projectInfo{
				Project: p,
				Valid:   p.Validate(baseDir) == nil,
			})
		}

		writeJSON(w, infos)
	}
}

// GetProjectRuns returns the recent runs of one project.
// Path: /api/projects/:name/runs
func GetProjectRuns(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name, ok := projectPathName(r.URL.Path)
		if !ok {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		runs, err := store.GetRunsByProject(name, 50)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get runs: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, runs)
	}
}

// GetProjectStats returns the latest run stats of one project.
// Path: /api/projects/:name/stats
func GetProjectStats(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name, ok := projectPathName(r.URL.Path)
		if !ok {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		stats, err := store.GetProjectStats(name, 10)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get stats: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, stats)
	}
}

// PostProjectRun triggers a run of a registered project's pipeline.
// Path: /api/projects/:name/run
func PostProjectRun(store *storage.Storage, projectsConfig *runner.ProjectsConfig, baseDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name, ok := projectPathName(r.URL.Path)
		if !ok {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		project, err := projectsConfig.GetProject(name)
		if err != nil {
			http.Error(w, fmt.Sprintf("Project not found: %v", err), http.StatusNotFound)
			return
		}
		if err := project.Validate(baseDir); err != nil {
			http.Error(w, fmt.Sprintf("Project is not runnable: %v", err), http.StatusConflict)
			return
		}

		go triggerRun(store, project.ConfigPath(baseDir), project.Name)

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "started", "project": name})
	}
}

// triggerRun executes a pipeline for an API-triggered request. Output is
// discarded here; it is captured per step and available through the run
// endpoints and the event stream.
func triggerRun(store *storage.Storage, configPath, projectName string) {
	_, err := runner.New().RunFile(configPath, runner.RunOptions{
		Storage:     store,
		Broker:      events.GetBroker(),
		Stdout:      io.Discard,
		Stderr:      io.Discard,
		ProjectName: projectName,
		Quiet:       true,
	})
	if err != nil {
		log.Printf("triggered run failed for %s: %v", configPath, err)
	}
}

// projectPathName extracts the project name from /api/projects/:name/...
func projectPathName(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
