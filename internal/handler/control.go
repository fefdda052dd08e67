package handler

import (
	"log/slog"
	"net/http"

	"github.com/capisim/capisim/internal/dispatch"
	"github.com/capisim/capisim/internal/handler/dto"
	"github.com/capisim/capisim/internal/model"
	"github.com/capisim/capisim/internal/scheduler"
	"github.com/capisim/capisim/internal/state"
)

// ControlHandler serves the control-state endpoints: master switches,
// catalog, auto-loops, status and chaos reset.
type ControlHandler struct {
	store     *state.Store
	loop      *scheduler.AutoLoop
	readiness *dispatch.Readiness
	logger    *slog.Logger
}

// NewControlHandler creates a new ControlHandler.
func NewControlHandler(store *state.Store, loop *scheduler.AutoLoop, readiness *dispatch.Readiness, logger *slog.Logger) *ControlHandler {
	if readiness == nil {
		readiness = dispatch.NewReadiness()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{
		store:     store,
		loop:      loop,
		readiness: readiness,
		logger:    logger,
	}
}

// Master handles POST /api/master.
func (h *ControlHandler) Master(w http.ResponseWriter, r *http.Request) {
	var req dto.MasterRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	m := h.store.SetMaster(req.PixelEnabled, req.CAPIEnabled)
	h.logger.Info("master_updated", "pixel_enabled", m.PixelEnabled, "capi_enabled", m.CAPIEnabled)
	writeJSON(w, http.StatusOK, dto.MasterResponse{OK: true, Master: m})
}

// Catalog handles GET /api/catalog.
func (h *ControlHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	cat := h.store.Catalog()
	products := cat.Products()
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, dto.CatalogResponse{OK: true, Size: cat.Len(), Products: products})
}

// CatalogSize handles POST /api/catalog/size.
func (h *ControlHandler) CatalogSize(w http.ResponseWriter, r *http.Request) {
	var req dto.CatalogSizeRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	if req.Size == nil {
		writeError(w, http.StatusBadRequest, "MISSING_SIZE", "size is required")
		return
	}

	size, err := h.store.SetCatalogSize(*req.Size)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.logger.Info("catalog_resized", "size", size)
	writeJSON(w, http.StatusOK, dto.CatalogSizeResponse{OK: true, Size: size})
}

// ServerAutoStart handles POST /api/server_auto/start.
func (h *ControlHandler) ServerAutoStart(w http.ResponseWriter, r *http.Request) {
	var req dto.ServerAutoStartRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	controls, err := req.Controls.Decode()
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	err = h.loop.Start(scheduler.Options{
		IntervalMS: req.IntervalMS,
		Schedule:   req.Schedule,
		Events:     req.Events,
		Channel:    req.Channel,
		SKUMode:    req.SKUMode,
		Controls:   controls,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ServerAutoResponse{OK: true, ServerAuto: h.store.ServerAuto()})
}

// ServerAutoStop handles POST /api/server_auto/stop. Stopping a stopped
// loop succeeds.
func (h *ControlHandler) ServerAutoStop(w http.ResponseWriter, r *http.Request) {
	wasRunning := h.loop.Stop()
	writeJSON(w, http.StatusOK, dto.ServerAutoResponse{
		OK:         true,
		WasRunning: &wasRunning,
		ServerAuto: h.store.ServerAuto(),
	})
}

// PixelAutoSet handles POST /api/pixel_auto/set.
func (h *ControlHandler) PixelAutoSet(w http.ResponseWriter, r *http.Request) {
	var req dto.PixelAutoSetRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	var controls *model.Controls
	if len(req.Controls) > 0 {
		c, err := req.Controls.Decode()
		if err != nil {
			handleError(w, h.logger, err)
			return
		}
		controls = &c
	}

	auto := h.store.SetPixelAuto(req.Running, req.IntervalMS, controls)
	writeJSON(w, http.StatusOK, dto.PixelAutoResponse{OK: true, Count: auto.Count, PixelAuto: auto})
}

// PixelAutoIncrement handles POST /api/pixel_auto/increment.
func (h *ControlHandler) PixelAutoIncrement(w http.ResponseWriter, r *http.Request) {
	var req dto.PixelAutoIncrementRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}

	count := h.store.IncrementPixelAuto(req.By)
	writeJSON(w, http.StatusOK, dto.PixelAutoResponse{OK: true, Count: count, PixelAuto: h.store.PixelAuto()})
}

// PixelAutoResetCount handles POST /api/pixel_auto/reset_count.
func (h *ControlHandler) PixelAutoResetCount(w http.ResponseWriter, r *http.Request) {
	h.store.ResetPixelAutoCount()
	writeJSON(w, http.StatusOK, dto.PixelAutoResponse{OK: true, PixelAuto: h.store.PixelAuto()})
}

// Status handles GET /api/status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	resp := dto.StatusResponse{
		OK:            true,
		Master:        snap.Master,
		CatalogSize:   snap.CatalogSize,
		PixelAuto:     snap.PixelAuto,
		ServerAuto:    snap.ServerAuto,
		LastCAPIError: snap.LastCAPIError,
		Counters:      snap.Counters,
		Duplicates:    snap.Duplicates,
		Ledger:        dto.LedgerInfo{Size: snap.LedgerSize, Capacity: snap.LedgerCapacity},
		Sinks:         h.readiness.All(),
	}
	if snap.ServerAuto.Running {
		opts := h.loop.Options()
		resp.ServerAutoOptions = &opts
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCAPIError handles POST /api/capi/clear_error.
func (h *ControlHandler) ClearCAPIError(w http.ResponseWriter, r *http.Request) {
	h.store.ClearCAPIError()
	writeJSON(w, http.StatusOK, dto.OKResponse{OK: true})
}

// ChaosReset handles POST /chaos/reset.
func (h *ControlHandler) ChaosReset(w http.ResponseWriter, r *http.Request) {
	h.store.ResetChaos()
	h.logger.Info("chaos_reset")
	writeJSON(w, http.StatusOK, dto.OKResponse{OK: true})
}
