package chat

import (
	"context"
	"fmt"
	"log"

	"chatwire/internal/client/customelement"
	"chatwire/internal/client/tree"
	"chatwire/internal/protocol"
	"chatwire/internal/types"
)

// RenderCustom renders every custom element currently known and applies the
// intents of those that rendered cleanly. A failing element only affects its
// own result.
func (a *App) RenderCustom(ctx context.Context) []customelement.Result {
	var custom []types.Element
	for _, el := range a.Elements.All() {
		if el.Type == types.ElementCustom {
			custom = append(custom, el)
		}
	}
	results := a.Renderer.RenderAll(ctx, custom)
	host := elementHost{app: a, ctx: ctx}
	for _, res := range results {
		if res.Err != nil {
			log.Printf("chat: custom element %s: %v", res.ElementID, res.Err)
			continue
		}
		if err := customelement.Apply(host, res); err != nil {
			log.Printf("chat: custom element %s: %v", res.ElementID, err)
		}
	}
	return results
}

type elementHost struct {
	app *App
	ctx context.Context
}

func (h elementHost) UpdateElement(id string, props map[string]any) error {
	el, ok := h.app.Elements.Get(id)
	if !ok {
		return fmt.Errorf("element %q not found", id)
	}
	el = el.Clone()
	if el.Props == nil {
		el.Props = make(map[string]any, len(props))
	}
	for k, v := range props {
		el.Props[k] = v
	}
	h.app.Elements.Upsert(el)
	if el.ForID != "" {
		_, err := h.app.Tree.PatchByID(el.ForID, tree.Patch{Elements: []types.Element{el}})
		return err
	}
	return nil
}

func (h elementHost) DeleteElement(id string) error {
	h.app.Elements.Remove(id)
	h.app.Tree.RemoveElement(id)
	return nil
}

// CallAction fires the action without waiting; the response arrives as a
// regular action_response event.
func (h elementHost) CallAction(action types.Action) error {
	return h.app.transport.Emit(protocol.EventCallAction, protocol.CallAction{Action: action})
}

func (h elementHost) SendUserMessage(message string) error {
	_, err := h.app.SendMessage(h.ctx, message, nil)
	return err
}
