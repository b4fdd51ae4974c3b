package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contractguard/contract-monitor/internal/config"
	"github.com/contractguard/contract-monitor/internal/database"
	"github.com/contractguard/contract-monitor/internal/model"
	"github.com/contractguard/contract-monitor/internal/monitor"
	"github.com/contractguard/contract-monitor/internal/scheduler"
	"github.com/contractguard/contract-monitor/internal/sla"
)

// HTTPHandler exposes the monitoring engine state over REST.
type HTTPHandler struct {
	config     *config.Config
	logger     *slog.Logger
	monitor    *monitor.Monitor
	scheduler  *scheduler.Scheduler
	aggregator *sla.Aggregator
	resultRepo *database.ResultRepository
	hub        *Hub
}

// NewHTTPHandler creates the REST handler. The result repository and hub may
// be nil; the corresponding endpoints degrade gracefully.
func NewHTTPHandler(
	cfg *config.Config,
	logger *slog.Logger,
	mon *monitor.Monitor,
	sched *scheduler.Scheduler,
	aggregator *sla.Aggregator,
	resultRepo *database.ResultRepository,
	hub *Hub,
) *HTTPHandler {
	return &HTTPHandler{
		config:     cfg,
		logger:     logger,
		monitor:    mon,
		scheduler:  sched,
		aggregator: aggregator,
		resultRepo: resultRepo,
		hub:        hub,
	}
}

// RegisterRoutes registers HTTP routes
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	contracts := api.PathPrefix("/contracts").Subrouter()
	contracts.HandleFunc("", h.handleRegisterContract).Methods("POST")
	contracts.HandleFunc("", h.handleListContracts).Methods("GET")
	contracts.HandleFunc("/{name}", h.handleGetContract).Methods("GET")
	contracts.HandleFunc("/{name}", h.handleDeactivateContract).Methods("DELETE")
	contracts.HandleFunc("/{name}/results", h.handleListResults).Methods("GET")
	contracts.HandleFunc("/{name}/violations", h.handleListViolations).Methods("GET")
	contracts.HandleFunc("/{name}/compliance", h.handleCompliance).Methods("GET")
	contracts.HandleFunc("/{name}/checks/{type}/run", h.handleRunCheck).Methods("POST")

	incidents := api.PathPrefix("/incidents").Subrouter()
	incidents.HandleFunc("", h.handleListIncidents).Methods("GET")
	incidents.HandleFunc("/{id}", h.handleGetIncident).Methods("GET")
	incidents.HandleFunc("/{id}/acknowledge", h.handleAcknowledgeIncident).Methods("POST")
	incidents.HandleFunc("/{id}/resolve", h.handleResolveIncident).Methods("POST")

	api.HandleFunc("/scheduler/tasks", h.handleListTasks).Methods("GET")

	if h.hub != nil {
		router.HandleFunc("/ws/violations", h.hub.ServeWS)
	}
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type registerContractRequest struct {
	ContractName     string            `json:"contract_name"`
	ContractVersion  string            `json:"contract_version"`
	ContractData     json.RawMessage   `json:"contract_data"`
	ConnectionConfig map[string]string `json:"connection_config"`
	Checks           []scheduledCheck  `json:"checks"`
}

type scheduledCheck struct {
	CheckType       string `json:"check_type"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func (h *HTTPHandler) handleRegisterContract(w http.ResponseWriter, r *http.Request) {
	var req registerContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ContractName == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("contract_name is required"))
		return
	}

	contract := &model.RegisteredContract{
		Name:             req.ContractName,
		Version:          req.ContractVersion,
		Data:             req.ContractData,
		ConnectionConfig: req.ConnectionConfig,
	}
	if err := h.monitor.RegisterContract(r.Context(), contract); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// No explicit checks means all check types on the default interval.
	checks := req.Checks
	if len(checks) == 0 {
		for _, ct := range model.AllCheckTypes() {
			checks = append(checks, scheduledCheck{CheckType: string(ct)})
		}
	}

	for _, sc := range checks {
		checkType, err := model.ParseCheckType(sc.CheckType)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		interval := time.Duration(sc.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = h.config.Monitoring.DefaultInterval()
		}
		if err := h.monitor.ScheduleContract(h.scheduler, req.ContractName, checkType, interval); err != nil {
			h.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"contract_name":    req.ContractName,
		"scheduled_checks": len(checks),
	})
}

func (h *HTTPHandler) handleListContracts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"contracts": h.monitor.Contracts()})
}

func (h *HTTPHandler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	contract, ok := h.monitor.Contract(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("contract %s not found", name))
		return
	}
	h.writeJSON(w, http.StatusOK, contract)
}

func (h *HTTPHandler) handleDeactivateContract(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	for _, ct := range model.AllCheckTypes() {
		taskName := monitor.TaskName(name, ct)
		if h.scheduler.IsScheduled(taskName) {
			if err := h.scheduler.Cancel(taskName); err != nil {
				h.logger.Warn("Failed to cancel task", "task", taskName, "error", err)
			}
		}
	}

	if err := h.monitor.DeactivateContract(r.Context(), name); err != nil {
		if errors.Is(err, monitor.ErrContractNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"contract_name": name, "active": false})
}

func (h *HTTPHandler) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	checkType, err := model.ParseCheckType(vars["type"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.monitor.RunCheck(r.Context(), vars["name"], checkType)
	if err != nil {
		if errors.Is(err, monitor.ErrContractNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleListResults(w http.ResponseWriter, r *http.Request) {
	if h.resultRepo == nil {
		h.writeError(w, http.StatusNotImplemented, errors.New("result history requires database storage"))
		return
	}
	name := mux.Vars(r)["name"]
	results, err := h.resultRepo.ListResults(r.Context(), name, queryLimit(r))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"contract_name": name, "results": results})
}

func (h *HTTPHandler) handleListViolations(w http.ResponseWriter, r *http.Request) {
	if h.resultRepo == nil {
		h.writeError(w, http.StatusNotImplemented, errors.New("violation history requires database storage"))
		return
	}
	name := mux.Vars(r)["name"]
	violations, err := h.resultRepo.ListViolations(r.Context(), name, queryLimit(r))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"contract_name": name, "violations": violations})
}

func (h *HTTPHandler) handleCompliance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.monitor.Contract(name); !ok {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("contract %s not found", name))
		return
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.ComplianceReport(name))
}

func (h *HTTPHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"incidents": h.aggregator.OpenIncidents()})
}

func (h *HTTPHandler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	incident, ok := h.aggregator.Incident(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("incident %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, incident)
}

type acknowledgeRequest struct {
	Actor string `json:"actor"`
}

func (h *HTTPHandler) handleAcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("actor is required"))
		return
	}

	if err := h.aggregator.Acknowledge(r.Context(), id, req.Actor); err != nil {
		if errors.Is(err, sla.ErrIncidentNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusConflict, err)
		return
	}
	incident, _ := h.aggregator.Incident(id)
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.aggregator.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, sla.ErrIncidentNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	incident, _ := h.aggregator.Incident(id)
	h.writeJSON(w, http.StatusOK, incident)
}

func (h *HTTPHandler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": h.scheduler.AllStats()})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
