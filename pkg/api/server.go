package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/rhuidobro/renderq/pkg/engine"
	"github.com/rhuidobro/renderq/pkg/gateway"
	"github.com/rhuidobro/renderq/pkg/logging"
	"github.com/rhuidobro/renderq/pkg/models"
	"github.com/rhuidobro/renderq/pkg/store"
	"github.com/rhuidobro/renderq/pkg/workflow"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Pinger probes a dependency's health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the job API over the gateway service
type Handler struct {
	service *gateway.Service
	engine  Pinger
	store   store.Store
	log     *logging.Logger
}

// NewHandler creates the API handler
func NewHandler(service *gateway.Service, enginePing Pinger, s store.Store, log *logging.Logger) *Handler {
	return &Handler{
		service: service,
		engine:  enginePing,
		store:   s,
		log:     log.WithField("component", "api"),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.DeleteJob).Methods("DELETE")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

type submitRequest struct {
	Template string         `json:"template,omitempty"`
	Workflow workflow.Graph `json:"workflow,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Prompts  []string       `json:"prompts,omitempty"`
	ClientID string         `json:"client_id,omitempty"`
	Content  string         `json:"content,omitempty"`
}

// SubmitJob handles job submission, single or batch. A prompts list
// submits one job per prompt under a shared batch id.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Template == "" && len(req.Workflow) == 0 {
		http.Error(w, "Either template or workflow is required", http.StatusBadRequest)
		return
	}

	if len(req.Prompts) > 0 {
		records, err := h.service.SubmitBatch(r.Context(), req.Template, req.Prompts, req.Content)
		if err != nil {
			h.writeSubmissionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"jobs":     records,
			"batch_id": records[0].BatchID,
		})
		return
	}

	record, err := h.service.SubmitJob(r.Context(), gateway.SubmitRequest{
		Template: req.Template,
		Graph:    req.Workflow,
		Prompt:   req.Prompt,
		ClientID: req.ClientID,
		Content:  req.Content,
	})
	if err != nil {
		h.writeSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// writeSubmissionError maps submission failures onto HTTP statuses with
// their machine-readable code attached
func (h *Handler) writeSubmissionError(w http.ResponseWriter, err error) {
	var subErr *engine.SubmissionError
	if errors.As(err, &subErr) {
		status := http.StatusBadGateway
		if subErr.Code == engine.CodeInvalidResponse {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{
			"error": subErr.Message,
			"code":  subErr.Code,
		})
		return
	}
	h.log.Error("submission failed", map[string]interface{}{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// GetJob returns one job record from either partition
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := h.service.GetJob(id)
	if errors.Is(err, store.ErrJobNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ListJobs returns the merged active and terminal record sets, newest first
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs()
	if err != nil {
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	list := make([]*models.JobRecord, 0, len(jobs))
	for _, record := range jobs {
		list = append(list, record)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// DeleteJob removes a job from both partitions
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.service.DeleteJob(id); err != nil {
		http.Error(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

type healthResponse struct {
	Status  string  `json:"status"`
	Engine  string  `json:"engine"`
	Store   string  `json:"store"`
	CPUUsed float64 `json:"cpu_used_percent,omitempty"`
	MemUsed float64 `json:"mem_used_percent,omitempty"`
}

// Health reports engine reachability, store health, and host load
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Engine: "connected", Store: "connected"}
	status := http.StatusOK

	if err := h.engine.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Engine = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.store.Ping(); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.CPUUsed = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsed = vm.UsedPercent
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are gone at this point; nothing to do but note it
		return
	}
}
