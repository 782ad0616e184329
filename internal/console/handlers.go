package console

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"device-rules/internal/rule"
	"device-rules/internal/rulelist"
	"device-rules/internal/schema"
)

// FieldsResponse lists the condition fields offered for a device.
type FieldsResponse struct {
	Device       schema.DeviceRef     `json:"device"`
	Source       schema.Source        `json:"source"`
	Fields       []schema.FieldOption `json:"fields"`
	DefaultField string               `json:"default_field"`
}

// PreviewResponse is the rule a draft would create.
type PreviewResponse struct {
	Rule    rule.Rule `json:"rule"`
	Summary string    `json:"summary"`
}

// SubmitResponse carries the created rule and the refreshed list.
type SubmitResponse struct {
	Rule *rule.Rule    `json:"rule"`
	View rulelist.View `json:"view"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.stats.GetStats())
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	dev := schema.DeviceRef{
		ID:     chi.URLParam(r, "deviceID"),
		TypeID: r.URL.Query().Get("device_type_id"),
	}

	sess := s.session(dev.ID)

	res := schema.Resolution{Device: dev, Source: schema.SourceNone}
	if sess.selection != nil {
		var err error
		res, err = sess.selection.Select(r.Context(), dev)
		if err != nil {
			if errors.Is(err, schema.ErrStaleSelection) {
				s.stats.IncStaleSelections()
			}
			handleError(w, err)
			return
		}
	}
	res.Device = dev

	sess.draft.Bind(res)

	respondJSON(w, http.StatusOK, FieldsResponse{
		Device:       dev,
		Source:       res.Source,
		Fields:       res.Options(),
		DefaultField: res.DefaultField(),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list := s.session(chi.URLParam(r, "deviceID")).list
	list.Refresh(r.Context())
	respondView(w, http.StatusOK, list.View())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	d, err := decodeDraft(w, r)
	if err != nil {
		handleError(w, err)
		return
	}

	built, err := d.Build(s.builder)
	if err != nil {
		var ve *rule.ValidationError
		if errors.As(err, &ve) {
			s.stats.IncValidationFailures()
			if s.metrics != nil {
				s.metrics.IncValidationFailure(ve.Field)
			}
		}
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, PreviewResponse{
		Rule:    built,
		Summary: rule.Summarize(built.Action),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	d, err := decodeDraft(w, r)
	if err != nil {
		handleError(w, err)
		return
	}

	sess := s.session(chi.URLParam(r, "deviceID"))
	created, err := sess.draft.SubmitDraft(r.Context(), d)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, SubmitResponse{
		Rule: created,
		View: sess.list.View(),
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	list := s.session(chi.URLParam(r, "deviceID")).list
	if err := list.Refresh(r.Context()); err != nil {
		respondView(w, http.StatusOK, list.View())
		return
	}

	if err := list.Toggle(r.Context(), rule.ID(chi.URLParam(r, "ruleID"))); err != nil {
		handleError(w, err)
		return
	}
	respondView(w, http.StatusOK, list.View())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	confirmed := r.URL.Query().Get("confirm") == "true"
	list := s.session(chi.URLParam(r, "deviceID")).list

	if err := list.Refresh(r.Context()); err != nil {
		respondView(w, http.StatusOK, list.View())
		return
	}

	confirm := rulelist.ConfirmFunc(func(_ context.Context, _ rule.Rule) bool {
		return confirmed
	})
	err := list.Delete(r.Context(), rule.ID(chi.URLParam(r, "ruleID")), confirm)
	if err != nil {
		handleError(w, err)
		return
	}
	respondView(w, http.StatusOK, list.View())
}

// respondView writes a list view, as 502 when the list failed to load.
func respondView(w http.ResponseWriter, status int, view rulelist.View) {
	if view.Error != "" {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, view)
}
