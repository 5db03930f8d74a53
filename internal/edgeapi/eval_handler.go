package edgeapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/bifrost-flags/bifrost/internal/flag"
	"github.com/bifrost-flags/bifrost/internal/logger"
	"github.com/bifrost-flags/bifrost/internal/rules"
)

// handleEvaluate processes the POST /api/v1/evaluate request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the EvaluateRequest DTO.
// 2. Sanitizes and Validates the input using the DTO's business logic.
// 3. Builds the bounded evaluation context document.
// 4. Delegates the decision to the engine.
// 5. Maps engine errors to HTTP statuses (unknown flag is the only 404).
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	evalCtx, errResp := a.buildContext(req.Context)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	decision, err := a.engine.Evaluate(r.Context(), req.FlagKey, req.SubjectID, evalCtx, req.Timeout())
	if err != nil {
		a.renderEngineError(w, r, req.FlagKey, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapDecisionToResponse(decision))
}

// handleBatchEvaluate processes the POST /api/v1/evaluate/batch request.
// One config fetch and one compiled rule serve the whole batch.
func (a *API) handleBatchEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req BatchEvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(a.maxBatchSize); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	evalCtx, errResp := a.buildContext(req.Context)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	decisions, err := a.engine.BatchEvaluate(r.Context(), req.FlagKey, req.SubjectIDs, evalCtx, req.Timeout())
	if err != nil {
		a.renderEngineError(w, r, req.FlagKey, err)
		return
	}

	resp := BatchDecisionResponse{
		Decisions: make([]DecisionResponse, 0, len(decisions)),
	}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, mapDecisionToResponse(d))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// buildContext constructs the bounded evaluation context. A missing context
// is valid: rules referencing any attribute simply fail closed.
func (a *API) buildContext(raw []byte) (*rules.Context, *ErrorResponse) {
	if len(raw) == 0 {
		ctx, err := rules.NewContextFromJSON([]byte("{}"), a.maxContextBytes)
		if err != nil {
			// Cannot happen for a literal empty object.
			panic("edgeapi: failed to build empty context: " + err.Error())
		}
		return ctx, nil
	}

	ctx, err := rules.NewContextFromJSON(raw, a.maxContextBytes)
	if err != nil {
		return nil, &ErrorResponse{
			Code:    "ERR_INVALID_CONTEXT",
			Message: "Invalid evaluation context: " + err.Error(),
		}
	}
	return ctx, nil
}

// renderEngineError maps engine errors to HTTP responses. Unknown flags are
// 404; anything else that escapes the engine is a caller contract violation,
// because availability failures degrade inside the engine instead of erroring.
func (a *API) renderEngineError(w http.ResponseWriter, r *http.Request, flagKey string, err error) {
	log := logger.FromContext(r.Context())

	if errors.Is(err, flag.ErrConfigNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_FLAG_NOT_FOUND",
			Message: "No configuration exists for flag '" + flagKey + "'",
		})
		return
	}

	log.Warn("evaluation rejected",
		slog.String("flag_key", flagKey),
		slog.String("error", err.Error()),
	)
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: err.Error(),
	})
}
