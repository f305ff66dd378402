package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alunegov/hmi-emu/internal/adapter/modbus"
	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/alunegov/hmi-emu/internal/service"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// CommandService validates and queues on-demand requests.
// Implemented by service.Commands.
type CommandService interface {
	Params() *domain.ParameterSet
	Load(id uint32, kind, requestID string) (string, error)
	Save(id uint32, kind, text, requestID string) (string, error)
	SetFlags(id uint32, flags domain.Bits, requestID string) (string, error)
}

// ValueCache serves the latest snapshot and on-demand values.
// Implemented by service.LatestSink.
type ValueCache interface {
	Snapshot() (domain.Snapshot, bool)
	Value(id uint16) (domain.ValueReport, bool)
}

// StatusSource reports the poll worker state.
// Implemented by service.Poller.
type StatusSource interface {
	Status() service.Status
}

// DeviceDiagnostics reports transport statistics.
// Implemented by the modbus clients.
type DeviceDiagnostics interface {
	DeviceStats() modbus.DeviceStats
	BlockHealth() []modbus.BlockHealth
}

// SubscriptionProvider lists the MQTT command topics in use.
// Implemented by the command handler.
type SubscriptionProvider interface {
	SubscribedTopics() []string
}

// Handler serves the parameter API.
type Handler struct {
	commands      CommandService
	cache         ValueCache
	status        StatusSource
	device        DeviceDiagnostics
	subscriptions SubscriptionProvider
	logger        zerolog.Logger
	started       time.Time
}

// NewHandler creates the API handler. device may be nil.
func NewHandler(commands CommandService, cache ValueCache, status StatusSource, device DeviceDiagnostics, logger zerolog.Logger) *Handler {
	return &Handler{
		commands: commands,
		cache:    cache,
		status:   status,
		device:   device,
		logger:   logger.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}
}

// SetSubscriptionProvider wires in the MQTT command handler (optional).
func (h *Handler) SetSubscriptionProvider(provider SubscriptionProvider) {
	h.subscriptions = provider
}

// Register mounts the API routes on router under /api.
func (h *Handler) Register(router *mux.Router, mw *Middleware) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(mw.CORS, mw.LimitRequestBody)

	api.HandleFunc("/params", h.listParams).Methods(http.MethodGet)
	api.HandleFunc("/params/{id}", h.getParam).Methods(http.MethodGet)
	api.HandleFunc("/snapshot", h.getSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)

	api.Handle("/params/{id}/load", mw.RequireAuth(http.HandlerFunc(h.load))).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/params/{id}/value", mw.RequireAuth(http.HandlerFunc(h.save))).Methods(http.MethodPut, http.MethodOptions)
	api.Handle("/params/{id}/flags", mw.RequireAuth(http.HandlerFunc(h.setFlags))).Methods(http.MethodPut, http.MethodOptions)
}

// Router returns a router with only the API routes mounted.
func (h *Handler) Router(mw *Middleware) *mux.Router {
	router := mux.NewRouter()
	h.Register(router, mw)
	return router
}

type paramView struct {
	ID      uint16              `json:"id"`
	Name    string              `json:"name,omitempty"`
	Kind    string              `json:"kind,omitempty"`
	Address uint16              `json:"address"`
	Current *domain.Reading     `json:"current,omitempty"`
	Loaded  *domain.ValueReport `json:"loaded,omitempty"`
}

// listParams returns the parameter specification.
func (h *Handler) listParams(w http.ResponseWriter, _ *http.Request) {
	specs := h.commands.Params().Specs()
	out := make([]paramView, len(specs))
	for i, spec := range specs {
		out[i] = paramView{ID: spec.ID, Name: spec.Name, Kind: spec.Kind.String(), Address: domain.RegisterAddress(spec.ID)}
	}
	h.writeJSON(w, map[string]interface{}{"params": out, "count": len(out)}, http.StatusOK)
}

// getParam returns one parameter with its latest polled and loaded values.
func (h *Handler) getParam(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paramID(w, r)
	if !ok {
		return
	}

	view := paramView{ID: id, Address: domain.RegisterAddress(id)}
	spec, idx, inSpec := h.commands.Params().Lookup(id)
	if inSpec {
		view.Name = spec.Name
		view.Kind = spec.Kind.String()
		if snap, ok := h.cache.Snapshot(); ok && idx < len(snap.Readings) {
			reading := snap.Readings[idx]
			view.Current = &reading
		}
	}
	if report, ok := h.cache.Value(id); ok {
		view.Loaded = &report
	}
	if !inSpec && view.Loaded == nil {
		writeError(w, "parameter not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, view, http.StatusOK)
}

// getSnapshot returns the most recent poll snapshot.
func (h *Handler) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.cache.Snapshot()
	if !ok {
		writeError(w, "no snapshot yet", http.StatusNotFound)
		return
	}
	h.writeJSON(w, snap, http.StatusOK)
}

type statusResponse struct {
	Uptime string               `json:"uptime"`
	Poller service.Status       `json:"poller"`
	Device *modbus.DeviceStats  `json:"device,omitempty"`
	Blocks []modbus.BlockHealth `json:"blocks,omitempty"`
	// MQTT command topic filters, when the MQTT collaborator is enabled
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// getStatus returns worker state and transport diagnostics.
func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Poller: h.status.Status(),
	}
	if h.device != nil {
		stats := h.device.DeviceStats()
		resp.Device = &stats
		resp.Blocks = h.device.BlockHealth()
	}
	if h.subscriptions != nil {
		resp.Subscriptions = h.subscriptions.SubscribedTopics()
	}
	h.writeJSON(w, resp, http.StatusOK)
}

type loadRequest struct {
	Kind      json.RawMessage `json:"kind,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

type saveRequest struct {
	Value     json.RawMessage `json:"value"`
	Kind      json.RawMessage `json:"kind,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

type flagsRequest struct {
	Flags     []bool `json:"flags"`
	RequestID string `json:"request_id,omitempty"`
}

// load queues an on-demand read. The kind may come from the query or the
// body; the body is optional.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rawParamID(w, r)
	if !ok {
		return
	}

	var req loadRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = literalText(req.Kind)
	}

	requestID, err := h.commands.Load(id, kind, req.RequestID)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"request_id": requestID}, http.StatusAccepted)
}

// save parses the value text and queues the write.
func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rawParamID(w, r)
	if !ok {
		return
	}

	var req saveRequest
	if !h.decodeBody(w, r, &req, false) {
		return
	}
	if len(req.Value) == 0 {
		writeError(w, "value is required", http.StatusBadRequest)
		return
	}

	requestID, err := h.commands.Save(id, literalText(req.Kind), literalText(req.Value), req.RequestID)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"request_id": requestID}, http.StatusAccepted)
}

// setFlags queues a bitfield write from 32 flags.
func (h *Handler) setFlags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rawParamID(w, r)
	if !ok {
		return
	}

	var req flagsRequest
	if !h.decodeBody(w, r, &req, false) {
		return
	}
	var bits domain.Bits
	if len(req.Flags) != len(bits) {
		writeError(w, "flags must hold exactly 32 entries", http.StatusBadRequest)
		return
	}
	copy(bits[:], req.Flags)

	requestID, err := h.commands.SetFlags(id, bits, req.RequestID)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"request_id": requestID}, http.StatusAccepted)
}

// rawParamID parses the {id} path variable without range checks, which
// are left to the command service.
func (h *Handler) rawParamID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeError(w, "invalid parameter id", http.StatusBadRequest)
		return 0, false
	}
	return uint32(id), true
}

func (h *Handler) paramID(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	id, ok := h.rawParamID(w, r)
	if !ok {
		return 0, false
	}
	if err := domain.ValidateParameterID(id); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return uint16(id), true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
	writeError(w, "invalid request body", http.StatusBadRequest)
	return false
}

func (h *Handler) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidParameterID),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidValue):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error().Err(err).Msg("Command failed")
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// literalText returns a JSON string's content, or any other JSON literal
// as written.
func literalText(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if text == "null" {
		return ""
	}
	return text
}
