package httpapi

import (
	"context"
	"net/http"

	"github.com/AlexKimmel/aiproxy/internal/apperr"
	"github.com/AlexKimmel/aiproxy/internal/chat"
	"github.com/AlexKimmel/aiproxy/internal/gateway"
	"github.com/AlexKimmel/aiproxy/internal/identity"
	"github.com/AlexKimmel/aiproxy/internal/notify"
)

type chatBody struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (a *api) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatBody
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	origin, _ := identity.OriginFrom(r.Context())

	out, err := a.chat.Handle(r.Context(), chat.Request{Message: in.Message, UserID: in.UserID, Origin: origin})
	gateway.SetLimitHeaders(w, out.Decision)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type adminsNotified struct {
	Success        bool   `json:"success"`
	AdminsNotified int    `json:"adminsNotified"`
	Message        string `json:"message,omitempty"`
}

type usersNotified struct {
	Success       bool   `json:"success"`
	UsersNotified int    `json:"usersNotified"`
	Message       string `json:"message,omitempty"`
}

func (a *api) handleSOS(w http.ResponseWriter, r *http.Request) {
	var ev notify.SOSEvent
	a.toAdmins(w, r, &ev, func(ctx context.Context) (notify.DispatchResult, error) {
		return a.notifier.SOS(ctx, ev)
	})
}

func (a *api) handleNewReport(w http.ResponseWriter, r *http.Request) {
	var ev notify.ReportEvent
	a.toAdmins(w, r, &ev, func(ctx context.Context) (notify.DispatchResult, error) {
		return a.notifier.NewReport(ctx, ev)
	})
}

func (a *api) toAdmins(w http.ResponseWriter, r *http.Request, ev any, send func(context.Context) (notify.DispatchResult, error)) {
	if err := decode(r, ev); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := send(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adminsNotified{Success: true, AdminsNotified: res.Succeeded, Message: res.Note})
}

func (a *api) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var ev notify.StatusEvent
	if err := decode(r, &ev); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := a.notifier.StatusUpdate(r.Context(), ev); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *api) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var ev notify.BroadcastEvent
	if err := decode(r, &ev); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.notifier.Broadcast(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersNotified{Success: true, UsersNotified: res.Succeeded, Message: res.Note})
}

type visionBody struct {
	ImageURL string `json:"imageUrl"`
	ReportID string `json:"reportId"`
}

func (a *api) handleVision(w http.ResponseWriter, r *http.Request) {
	var in visionBody
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.ImageURL == "" || in.ReportID == "" {
		writeError(w, r, apperr.Validation("imageUrl and reportId required"))
		return
	}
	if a.vision == nil {
		writeError(w, r, apperr.NotConfigured("VISION_API_KEY"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), visionTimeout)
	defer cancel()

	res, err := a.vision.Analyze(ctx, in.ImageURL)
	if err != nil {
		writeError(w, r, apperr.Upstream("vision_error", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"labels":     res.Labels,
		"objects":    res.Objects,
		"safeSearch": res.SafeSearch,
	})
}
