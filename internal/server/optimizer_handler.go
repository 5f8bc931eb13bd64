package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

const maxBodyBytes = 4 << 20

// placementRequest is the body of POST /api/v1/datacenters/{id}/placements.
type placementRequest struct {
	VMs     []*domain.VM `json:"vms"`
	Seed    uint64       `json:"seed,omitempty"`
	Execute bool         `json:"execute,omitempty"`
}

// consolidationRequest is the body of POST /api/v1/datacenters/{id}/consolidations.
type consolidationRequest struct {
	Seed    uint64 `json:"seed,omitempty"`
	Execute bool   `json:"execute,omitempty"`
}

func (s *Server) placeHandler(w http.ResponseWriter, r *http.Request) {
	var body placementRequest
	if err := decodeBody(r, &body, false); err != nil {
		s.writeError(w, err)
		return
	}

	dcID := r.PathValue("id")
	if body.Execute && s.registrar != nil {
		for _, vm := range body.VMs {
			if vm == nil {
				continue
			}
			if err := s.registrar.AddVM(dcID, vm); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				s.writeError(w, err)
				return
			}
		}
	}

	s.optimize(w, r.Context(), &optimizer.Request{
		DatacenterID: dcID,
		Mode:         optimizer.ModePlacement,
		VMs:          body.VMs,
		Seed:         body.Seed,
		Execute:      body.Execute,
	})
}

func (s *Server) consolidateHandler(w http.ResponseWriter, r *http.Request) {
	var body consolidationRequest
	if err := decodeBody(r, &body, true); err != nil {
		s.writeError(w, err)
		return
	}

	s.optimize(w, r.Context(), &optimizer.Request{
		DatacenterID: r.PathValue("id"),
		Mode:         optimizer.ModeConsolidation,
		Seed:         body.Seed,
		Execute:      body.Execute,
	})
}

func (s *Server) optimize(w http.ResponseWriter, ctx context.Context, req *optimizer.Request) {
	res, err := s.optimizer.Optimize(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) listPlansHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("limit must be an integer: %w", domain.ErrInvalidArgument))
			return
		}
		limit = n
	}

	plans, err := s.optimizer.ListPlans(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if plans == nil {
		plans = []*domain.MigrationPlan{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

func (s *Server) getPlanHandler(w http.ResponseWriter, r *http.Request) {
	plan, err := s.optimizer.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) getStateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.optimizer.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) resetStateHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.optimizer.ResetState(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a JSON body. Unknown fields are rejected; an empty body
// is accepted only when allowEmpty is set.
func decodeBody(r *http.Request, dest interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid request body: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrDatacenterBusy):
		return http.StatusConflict, "datacenter_busy"
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError writes an error JSON response.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn("API error", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	}
	s.writeJSON(w, status, map[string]interface{}{
		"code":    code,
		"message": err.Error(),
	})
}
