package chat

import (
	"errors"
	"log"

	"chatwire/internal/client/tree"
	"chatwire/internal/protocol"
	"chatwire/internal/types"
)

func (a *App) bind() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.offs) > 0 {
		return
	}
	on := func(event string, fn func(protocol.Envelope) error) {
		a.offs = append(a.offs, a.transport.On(event, func(env protocol.Envelope) {
			if err := fn(env); err != nil {
				log.Printf("chat: %s: %v", event, err)
			}
		}))
	}
	on(protocol.EventNewMessage, a.onNewMessage)
	on(protocol.EventUpdateMessage, a.onUpdateMessage)
	on(protocol.EventStreamStart, a.onStreamStart)
	on(protocol.EventStreamToken, a.onStreamToken)
	on(protocol.EventElement, a.onElement)
	on(protocol.EventRemoveElement, a.onRemoveElement)
	on(protocol.EventMessageID, a.onMessageID)
	on(protocol.EventFirstInteraction, a.onFirstInteraction)
	on(protocol.EventClearAsk, func(protocol.Envelope) error {
		a.setAsking(false)
		return nil
	})
}

func (a *App) unbind() {
	a.mu.Lock()
	offs := a.offs
	a.offs = nil
	a.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// insert appends step, or patches it when the id is already known (the echo
// of an optimistic step).
func (a *App) insert(step types.Step) error {
	for _, el := range step.Elements {
		a.Elements.Upsert(el)
	}
	err := a.Tree.Append(step)
	switch {
	case errors.Is(err, tree.ErrDuplicateID):
		_, err = a.Tree.PatchByID(step.ID, tree.PatchFromStep(step))
	case err == nil:
		// Elements that raced ahead of their step.
		if early := a.Elements.ForMessage(step.ID); len(early) > 0 {
			_, err = a.Tree.PatchByID(step.ID, tree.Patch{Elements: early})
		}
	}
	if err == nil && step.WaitForAnswer {
		a.setAsking(true)
	}
	return err
}

func (a *App) onNewMessage(env protocol.Envelope) error {
	var step types.Step
	if err := env.Decode(&step); err != nil {
		return err
	}
	return a.insert(step)
}

func (a *App) onStreamStart(env protocol.Envelope) error {
	var step protocol.StreamStart
	if err := env.Decode(&step); err != nil {
		return err
	}
	step.Streaming = true
	return a.insert(step)
}

func (a *App) onUpdateMessage(env protocol.Envelope) error {
	var step types.Step
	if err := env.Decode(&step); err != nil {
		return err
	}
	for _, el := range step.Elements {
		a.Elements.Upsert(el)
	}
	a.invalidateThread(step.ThreadID)
	_, err := a.Tree.PatchByID(step.ID, tree.PatchFromStep(step))
	if err == nil && !step.WaitForAnswer {
		a.setAsking(false)
	}
	return err
}

func (a *App) onFirstInteraction(env protocol.Envelope) error {
	var payload protocol.FirstInteraction
	if err := env.Decode(&payload); err != nil {
		return err
	}
	a.invalidateThread(payload.ThreadID)
	return nil
}

// invalidateThread drops the cached copy of a thread that just changed on
// the server. A blank id means the current thread.
func (a *App) invalidateThread(threadID string) {
	if a.api == nil {
		return
	}
	if threadID == "" {
		threadID = a.Session.Store().ThreadID()
	}
	if threadID != "" {
		a.api.InvalidateThread(threadID)
	}
}

func (a *App) onStreamToken(env protocol.Envelope) error {
	var tok protocol.StreamToken
	if err := env.Decode(&tok); err != nil {
		return err
	}
	var p tree.Patch
	switch {
	case tok.IsInput && tok.IsSequence:
		p.Input = tree.String(tok.Token)
	case tok.IsInput:
		p.AppendInput = tok.Token
	case tok.IsSequence:
		p.Output = tree.String(tok.Token)
	default:
		p.AppendOutput = tok.Token
	}
	_, err := a.Tree.PatchByID(tok.ID, p)
	return err
}

func (a *App) onElement(env protocol.Envelope) error {
	var el types.Element
	if err := env.Decode(&el); err != nil {
		return err
	}
	a.Elements.Upsert(el)
	if el.ForID != "" {
		_, err := a.Tree.PatchByID(el.ForID, tree.Patch{Elements: []types.Element{el}})
		return err
	}
	return nil
}

func (a *App) onRemoveElement(env protocol.Envelope) error {
	var payload protocol.RemoveElement
	if err := env.Decode(&payload); err != nil {
		return err
	}
	a.Elements.Remove(payload.ID)
	a.Tree.RemoveElement(payload.ID)
	return nil
}

func (a *App) onMessageID(env protocol.Envelope) error {
	var payload protocol.MessageID
	if err := env.Decode(&payload); err != nil {
		return err
	}
	if err := a.Tree.ReplaceID(payload.OldID, payload.NewID); err != nil {
		return err
	}
	a.Elements.Rebind(payload.OldID, payload.NewID)
	a.invalidateThread("")
	return nil
}
