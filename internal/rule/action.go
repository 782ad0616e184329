package rule

import (
	"encoding/json"
	"fmt"
)

// ActionType is the discriminator of the serialized action.
type ActionType string

const (
	ActionAlert         ActionType = "alert"
	ActionDeviceCommand ActionType = "device_command"
	ActionWebhook       ActionType = "webhook"
	ActionDrop          ActionType = "drop"
	ActionMutate        ActionType = "mutate"
	ActionRoute         ActionType = "route"
)

// Action is the effect a rule produces when its condition matches. The set
// of implementations is closed: only this package can add variants.
type Action interface {
	// Type returns the serialized discriminator.
	Type() ActionType
	// StopsEvaluation reports the stop flag: once this rule fires the
	// engine skips lower-priority rules for the same event.
	StopsEvaluation() bool
	isAction()
}

// AlertPriority is the severity carried by an alert action.
type AlertPriority string

const (
	AlertLow      AlertPriority = "low"
	AlertMedium   AlertPriority = "medium"
	AlertHigh     AlertPriority = "high"
	AlertCritical AlertPriority = "critical"
)

func (p AlertPriority) Valid() bool {
	switch p {
	case AlertLow, AlertMedium, AlertHigh, AlertCritical:
		return true
	}
	return false
}

type AlertAction struct {
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Priority AlertPriority `json:"priority"`
	Stop     bool          `json:"stop"`
}

// DeviceCommandAction sends Command to the device. An empty Topic means the
// engine's per-device command topic.
type DeviceCommandAction struct {
	Command map[string]interface{} `json:"command"`
	Topic   string                 `json:"topic,omitempty"`
	QoS     int                    `json:"qos"`
	Stop    bool                   `json:"stop"`
}

// WebhookAction calls URL. Body may hold {{field.path}} placeholders which
// the server substitutes; they are passed through untouched.
type WebhookAction struct {
	URL     string                 `json:"url"`
	Method  string                 `json:"method"`
	Headers map[string]interface{} `json:"headers"`
	Body    map[string]interface{} `json:"body"`
	Stop    bool                   `json:"stop"`
}

type DropAction struct {
	Reason string `json:"reason"`
	Stop   bool   `json:"stop"`
}

// MutateAction overwrites payload paths with fixed values.
type MutateAction struct {
	Set  map[string]interface{} `json:"set"`
	Stop bool                   `json:"stop"`
}

type RouteAction struct {
	Topic string `json:"topic"`
	Stop  bool   `json:"stop"`
}

// UnknownAction preserves an action whose type this client does not know,
// or whose body does not fit its type. It only comes out of decoding and is
// never built locally.
type UnknownAction struct {
	RawType string
	Raw     json.RawMessage
	Stop    bool
}

func (AlertAction) Type() ActionType         { return ActionAlert }
func (DeviceCommandAction) Type() ActionType { return ActionDeviceCommand }
func (WebhookAction) Type() ActionType       { return ActionWebhook }
func (DropAction) Type() ActionType          { return ActionDrop }
func (MutateAction) Type() ActionType        { return ActionMutate }
func (RouteAction) Type() ActionType         { return ActionRoute }
func (a UnknownAction) Type() ActionType     { return ActionType(a.RawType) }

func (a AlertAction) StopsEvaluation() bool         { return a.Stop }
func (a DeviceCommandAction) StopsEvaluation() bool { return a.Stop }
func (a WebhookAction) StopsEvaluation() bool       { return a.Stop }
func (a DropAction) StopsEvaluation() bool          { return a.Stop }
func (a MutateAction) StopsEvaluation() bool        { return a.Stop }
func (a RouteAction) StopsEvaluation() bool         { return a.Stop }
func (a UnknownAction) StopsEvaluation() bool       { return a.Stop }

func (AlertAction) isAction()         {}
func (DeviceCommandAction) isAction() {}
func (WebhookAction) isAction()       {}
func (DropAction) isAction()          {}
func (MutateAction) isAction()        {}
func (RouteAction) isAction()         {}
func (UnknownAction) isAction()       {}

// Aliases drop the methods so the embedded struct encodes with plain field tags.
type (
	alertFields         AlertAction
	deviceCommandFields DeviceCommandAction
	webhookFields       WebhookAction
	dropFields          DropAction
	mutateFields        MutateAction
	routeFields         RouteAction
)

// MarshalAction encodes a with its "type" discriminator.
func MarshalAction(a Action) ([]byte, error) {
	switch v := a.(type) {
	case AlertAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			alertFields
		}{v.Type(), alertFields(v)})
	case DeviceCommandAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			deviceCommandFields
		}{v.Type(), deviceCommandFields(v)})
	case WebhookAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			webhookFields
		}{v.Type(), webhookFields(v)})
	case DropAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			dropFields
		}{v.Type(), dropFields(v)})
	case MutateAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			mutateFields
		}{v.Type(), mutateFields(v)})
	case RouteAction:
		return json.Marshal(struct {
			Type ActionType `json:"type"`
			routeFields
		}{v.Type(), routeFields(v)})
	case UnknownAction:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(map[string]interface{}{"type": v.RawType, "stop": v.Stop})
	case nil:
		return nil, fmt.Errorf("action cannot be nil")
	default:
		return nil, fmt.Errorf("unsupported action %T", a)
	}
}

// UnmarshalAction decodes an action by its "type" discriminator. Types this
// client does not know, and known types whose shape does not match, decode
// into UnknownAction so a single odd rule never hides the others.
func UnmarshalAction(data []byte) (Action, error) {
	var head struct {
		Type string `json:"type"`
		Stop bool   `json:"stop"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return unknownAction(head.Type, false, data), nil
	}

	action, err := decodeKnownAction(ActionType(head.Type), data)
	if err != nil || action == nil {
		return unknownAction(head.Type, head.Stop, data), nil
	}
	return action, nil
}

// decodeKnownAction returns nil for a type it does not know.
func decodeKnownAction(typ ActionType, data []byte) (Action, error) {
	switch typ {
	case ActionAlert:
		var v alertFields
		err := json.Unmarshal(data, &v)
		return AlertAction(v), err
	case ActionDeviceCommand:
		var v deviceCommandFields
		err := json.Unmarshal(data, &v)
		return DeviceCommandAction(v), err
	case ActionWebhook:
		var v webhookFields
		err := json.Unmarshal(data, &v)
		return WebhookAction(v), err
	case ActionDrop:
		var v dropFields
		err := json.Unmarshal(data, &v)
		return DropAction(v), err
	case ActionMutate:
		var v mutateFields
		err := json.Unmarshal(data, &v)
		return MutateAction(v), err
	case ActionRoute:
		var v routeFields
		err := json.Unmarshal(data, &v)
		return RouteAction(v), err
	default:
		return nil, nil
	}
}

func unknownAction(typ string, stop bool, data []byte) UnknownAction {
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return UnknownAction{RawType: typ, Raw: raw, Stop: stop}
}
