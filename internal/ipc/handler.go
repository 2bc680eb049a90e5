package ipc

import (
	"context"
	"errors"
	"strings"

	"autokeyd/internal/model"
	"autokeyd/internal/script"
)

// Controller is the part of the daemon the control socket drives.
type Controller interface {
	Status() StatusResponse
	// Pause, Unpause and Toggle return whether monitoring is on afterwards.
	Pause() bool
	Unpause() bool
	Toggle() bool
	RunPhrase(ctx context.Context, name string) error
	RunScript(ctx context.Context, name string, args []string) (string, error)
	RunFolder(ctx context.Context, name string) error
	ScriptErrors(clear bool) ([]ScriptErrorInfo, error)
	Reload(ctx context.Context) (*ReloadResponse, error)
}

// DaemonHandler implements the Handler interface on top of a Controller.
type DaemonHandler struct {
	ctl Controller
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(ctl Controller) *DaemonHandler {
	return &DaemonHandler{ctl: ctl}
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgStatusRequest:
		st := h.ctl.Status()
		return NewResponse(MsgStatusResponse, id, &st)

	case MsgPause:
		return NewResponse(MsgServiceState, id, &ServiceStateResponse{Running: h.ctl.Pause()})

	case MsgUnpause:
		return NewResponse(MsgServiceState, id, &ServiceStateResponse{Running: h.ctl.Unpause()})

	case MsgToggle:
		return NewResponse(MsgServiceState, id, &ServiceStateResponse{Running: h.ctl.Toggle()})

	case MsgRunPhrase, MsgRunScript, MsgRunFolder:
		return h.handleRun(ctx, msg)

	case MsgErrorsRequest:
		var req ErrorsRequest
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(id, ErrInvalidRequest, "invalid errors request"), nil
		}
		list, err := h.ctl.ScriptErrors(req.Clear)
		if err != nil {
			return errorReply(id, err), nil
		}
		if list == nil {
			list = []ScriptErrorInfo{}
		}
		return NewResponse(MsgErrorsResponse, id, &ErrorsResponse{Errors: list})

	case MsgReload:
		resp, err := h.ctl.Reload(ctx)
		if err != nil {
			return errorReply(id, err), nil
		}
		return NewResponse(MsgReloadResp, id, resp)

	default:
		return NewErrorMessage(id, ErrInvalidRequest, "unknown message type"), nil
	}
}

func (h *DaemonHandler) handleRun(ctx context.Context, msg *Message) (*Message, error) {
	id := msg.Header.RequestID

	var req RunRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid run request"), nil
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return NewErrorMessage(id, ErrInvalidRequest, "name is required"), nil
	}

	var (
		result string
		err    error
	)
	switch msg.Header.Type {
	case MsgRunPhrase:
		err = h.ctl.RunPhrase(ctx, req.Name)
	case MsgRunScript:
		result, err = h.ctl.RunScript(ctx, req.Name, req.Args)
	case MsgRunFolder:
		err = h.ctl.RunFolder(ctx, req.Name)
	}
	if err != nil {
		return errorReply(id, err), nil
	}
	return NewResponse(MsgRunResult, id, &RunResponse{Result: result})
}

// errorReply maps daemon errors onto protocol error codes.
func errorReply(id uint32, err error) *Message {
	var scriptErr *script.Error
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, script.ErrNoScript):
		return NewErrorMessage(id, ErrNotFound, err.Error())
	case errors.As(err, &scriptErr):
		return NewErrorMessage(id, ErrScriptFailed, err.Error())
	case errors.Is(err, ErrServicePaused):
		return NewErrorMessage(id, ErrNotRunning, err.Error())
	default:
		return NewErrorMessage(id, ErrInternalError, err.Error())
	}
}

// ErrServicePaused is returned by controllers that refuse work while
// monitoring is off.
var ErrServicePaused = errors.New("service is paused")

// ScriptErrorsFrom converts runner errors for the wire.
func ScriptErrorsFrom(list []script.Error) []ScriptErrorInfo {
	out := make([]ScriptErrorInfo, 0, len(list))
	for _, e := range list {
		out = append(out, ScriptErrorInfo{
			Script:    e.Script,
			Message:   e.Message,
			Traceback: e.Traceback,
			StartedAt: e.Started,
			FailedAt:  e.Failed,
		})
	}
	return out
}
