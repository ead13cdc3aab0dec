// Package fleet exposes read-only HTTP views over the yard fleet.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	corefleet "github.com/kilianp07/yardfleet/core/fleet"
	"github.com/kilianp07/yardfleet/core/model"
	"github.com/kilianp07/yardfleet/core/risk"
)

// Reader is the subset of the coordinator served over HTTP.
type Reader interface {
	YardOccupancy(ctx context.Context) ([]model.Occupancy, error)
	AssessVehicle(ctx context.Context, plate string) (risk.Assessment, error)
}

// NewOccupancyHandler returns an HTTP handler exposing yard counters via GET /api/yards/occupancy.
func NewOccupancyHandler(r Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		occ, err := r.YardOccupancy(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if occ == nil {
			occ = []model.Occupancy{}
		}
		writeJSON(w, http.StatusOK, occ)
	})
}

// NewRiskHandler returns an HTTP handler exposing a vehicle's maintenance
// assessment via GET /api/vehicles/risk?plate=XXX-0000.
func NewRiskHandler(r Reader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		plate := req.URL.Query().Get("plate")
		if plate == "" {
			http.Error(w, "plate is required", http.StatusBadRequest)
			return
		}
		a, err := r.AssessVehicle(req.Context(), plate)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
}

// NewMux routes both handlers.
func NewMux(r Reader) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/yards/occupancy", NewOccupancyHandler(r))
	mux.Handle("/api/vehicles/risk", NewRiskHandler(r))
	return mux
}

// Serve runs the API on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler, shutdown time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch corefleet.KindOf(err) {
	case corefleet.KindNotFound:
		status = http.StatusNotFound
	case corefleet.KindValidation:
		status = http.StatusBadRequest
	case corefleet.KindConflict:
		status = http.StatusConflict
	}
	body := errorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	var fe *corefleet.Error
	if errors.As(err, &fe) {
		body.Reason = string(fe.Reason)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
