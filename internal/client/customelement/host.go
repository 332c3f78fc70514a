package customelement

import (
	"errors"
	"fmt"

	"chatwire/internal/types"
)

// Host carries out intents on behalf of an element.
type Host interface {
	UpdateElement(id string, props map[string]any) error
	DeleteElement(id string) error
	CallAction(action types.Action) error
	SendUserMessage(message string) error
}

// Apply runs the intents of a successful render in order. Failed renders
// carry no intents, so nothing partial ever reaches the host.
func Apply(host Host, res Result) error {
	if res.Err != nil {
		return nil
	}
	var errs []error
	for _, in := range res.Intents {
		var err error
		switch in.Kind {
		case IntentUpdateElement:
			err = host.UpdateElement(in.ElementID, in.Props)
		case IntentDeleteElement:
			err = host.DeleteElement(in.ElementID)
		case IntentCallAction:
			err = host.CallAction(in.Action)
		case IntentSendUserMessage:
			err = host.SendUserMessage(in.Message)
		default:
			err = fmt.Errorf("unknown intent %q", in.Kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.Kind, err))
		}
	}
	return errors.Join(errs...)
}
