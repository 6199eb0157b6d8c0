package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"focusd/internal/protocol"
	"focusd/internal/store"
)

// Handler routes decoded requests: the event method mutates the store,
// get_* methods read it. Routing has no side effects of its own.
type Handler struct {
	store   *store.Store
	version string
}

// NewHandler builds the request router.
func NewHandler(st *store.Store, version string) *Handler {
	return &Handler{store: st, version: version}
}

// Handle processes one raw request line and always returns a response.
func (h *Handler) Handle(ctx context.Context, line []byte) *protocol.Response {
	req, errBody := protocol.ParseRequest(line)
	if errBody != nil {
		ipcLog.Debug("request_rejected", slog.String("code", errBody.Code), slog.String("message", errBody.Message))
		return &protocol.Response{ID: "", OK: false, Error: errBody}
	}

	now := time.Now()
	var (
		result any
		err    error
	)
	switch req.Method {
	case protocol.MethodGetHealth:
		result = h.store.Health(os.Getpid(), h.version)

	case protocol.MethodGetShellState:
		result = h.store.Shells()

	case protocol.MethodGetProcessLiveness:
		result, err = h.liveness(req.Params, now)

	case protocol.MethodGetSessions:
		result = h.store.Sessions(now)

	case protocol.MethodGetProjectStates:
		result, err = h.projectStates(req.Params, now)

	case protocol.MethodGetActivity:
		result, err = h.activity(req.Params, now)

	case protocol.MethodGetTombstones:
		result = h.store.Tombstones()

	case protocol.MethodEvent:
		result, err = h.event(ctx, req.Params)
	}

	if err != nil {
		return protocol.ErrResponse(req.ID, errCode(err), err.Error())
	}
	resp, mErr := protocol.OKResponse(req.ID, result)
	if mErr != nil {
		ipcLog.Error("marshal_result_failed", slog.String("method", req.Method), slog.String("error", mErr.Error()))
		return protocol.ErrResponse(req.ID, protocol.ErrCodeInternal, "failed to encode result")
	}
	return resp
}

func (h *Handler) event(ctx context.Context, params json.RawMessage) (any, error) {
	var ev protocol.Event
	if err := json.Unmarshal(params, &ev); err != nil {
		return nil, &protocol.ErrorBody{Code: protocol.ErrCodeValidation, Message: "malformed event params"}
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	res, err := h.store.ApplyEvent(ctx, &ev)
	if err != nil {
		// The in-memory state is already committed; only durability failed.
		return nil, err
	}
	return res, nil
}

func (h *Handler) liveness(params json.RawMessage, now time.Time) (any, error) {
	var p protocol.LivenessParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeValidation, Message: "malformed liveness params"}
		}
	}
	if p.PID <= 0 {
		return nil, &protocol.ErrorBody{Code: protocol.ErrCodeValidation, Message: "pid must be positive"}
	}
	return protocol.LivenessInfo{
		PID:   p.PID,
		Alive: h.store.Prober().Alive(p.PID, time.Time{}, now),
	}, nil
}

func (h *Handler) projectStates(params json.RawMessage, now time.Time) (any, error) {
	var p protocol.ProjectStatesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeValidation, Message: "malformed project states params"}
		}
	}
	return h.store.ProjectStates(p.Path, now), nil
}

func (h *Handler) activity(params json.RawMessage, now time.Time) (any, error) {
	var p protocol.ActivityParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &protocol.ErrorBody{Code: protocol.ErrCodeValidation, Message: "malformed activity params"}
		}
	}
	window := time.Duration(p.WithinMinutes) * time.Minute
	return h.store.Activity(p.Path, window, now), nil
}

// errCode maps handler errors to wire codes.
func errCode(err error) string {
	var eb *protocol.ErrorBody
	if errors.As(err, &eb) {
		return eb.Code
	}
	var ve *protocol.ValidationError
	if errors.As(err, &ve) {
		return protocol.ErrCodeValidation
	}
	var pe *store.PersistError
	if errors.As(err, &pe) {
		return protocol.ErrCodePersistence
	}
	return protocol.ErrCodeInternal
}
