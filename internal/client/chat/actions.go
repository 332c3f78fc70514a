package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"chatwire/internal/client/session"
	"chatwire/internal/client/tree"
	"chatwire/internal/client/upload"
	"chatwire/internal/protocol"
	"chatwire/internal/types"

	"github.com/google/uuid"
)

const actionTimeout = 30 * time.Second

// SendMessage adds the user step to the tree right away and sends it. When
// the send fails the step stays, flagged as an error.
func (a *App) SendMessage(ctx context.Context, text string, files []upload.Ref) (types.Step, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(files) == 0 {
		return types.Step{}, fmt.Errorf("message is empty")
	}
	step := types.Step{
		ID:        uuid.NewString(),
		ThreadID:  a.Session.Store().ThreadID(),
		Name:      a.author,
		Type:      types.StepUserMessage,
		Output:    text,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Tree.Append(step); err != nil {
		return types.Step{}, err
	}
	a.setAsking(false)

	refs := make([]protocol.FileRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, protocol.FileRef{ID: f.ID})
	}
	if err := a.transport.Emit(protocol.EventClientMessage, protocol.ClientMessage{Message: step, FileRefs: refs}); err != nil {
		_, _ = a.Tree.PatchByID(step.ID, tree.Patch{IsError: tree.Bool(true)})
		a.notify.Error(fmt.Sprintf("Message not sent: %v", err))
		return step, err
	}
	a.Session.Store().SetLoading(true)
	return step, nil
}

func (a *App) Stop() {
	a.Session.Stop()
}

// NewChat clears the session and starts a fresh one.
func (a *App) NewChat(ctx context.Context) error {
	a.setAsking(false)
	return a.Session.Clear(ctx)
}

func (a *App) OpenThread(ctx context.Context, threadID string) (session.OpenMode, error) {
	return a.Session.OpenThread(ctx, threadID, a.Settings())
}

// OpenSharedThread asks the server to replay a thread shared by someone
// else into the current session.
func (a *App) OpenSharedThread(threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	a.Tree.Clear()
	a.Elements.Reset()
	return a.transport.Emit(protocol.EventOpenSharedThread, protocol.OpenSharedThread{ThreadID: threadID})
}

// SendFeedback rates a step. The tree shows the new feedback immediately;
// if the server refuses it the previous feedback is put back.
func (a *App) SendFeedback(ctx context.Context, fb types.Feedback) error {
	if a.api == nil {
		return fmt.Errorf("api client is not configured")
	}
	step, ok := a.Tree.Get(fb.ForID)
	if !ok {
		return fmt.Errorf("step %q not found", fb.ForID)
	}
	previous := step.Feedback
	if previous != nil && fb.ID == "" {
		fb.ID = previous.ID
	}
	if _, err := a.Tree.PatchByID(fb.ForID, tree.Patch{Feedback: &fb}); err != nil {
		return err
	}

	ack, err := a.api.SetFeedback(ctx, fb).Unpack()
	if err != nil {
		restore := tree.Patch{ClearFeedback: true}
		if previous != nil {
			restore = tree.Patch{Feedback: previous}
		}
		if _, perr := a.Tree.PatchByID(fb.ForID, restore); perr != nil {
			log.Printf("chat: restore feedback on %s: %v", fb.ForID, perr)
		}
		a.notify.Error(fmt.Sprintf("Failed to save feedback: %v", err))
		return err
	}
	if ack.FeedbackID != "" && ack.FeedbackID != fb.ID {
		fb.ID = ack.FeedbackID
		_, _ = a.Tree.PatchByID(fb.ForID, tree.Patch{Feedback: &fb})
	}
	return nil
}

// CallAction runs a server action and waits for its action_response.
func (a *App) CallAction(ctx context.Context, action types.Action) (protocol.ActionResponse, error) {
	if strings.TrimSpace(action.ID) == "" {
		action.ID = uuid.NewString()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, actionTimeout)
		defer cancel()
	}

	got := make(chan protocol.ActionResponse, 1)
	off := a.transport.On(protocol.EventActionResponse, func(env protocol.Envelope) {
		var resp protocol.ActionResponse
		if err := env.Decode(&resp); err != nil || resp.ID != action.ID {
			return
		}
		select {
		case got <- resp:
		default:
		}
	})
	defer off()

	if err := a.transport.Emit(protocol.EventCallAction, protocol.CallAction{Action: action}); err != nil {
		a.notify.Error(fmt.Sprintf("Action %s failed: %v", action.Name, err))
		return protocol.ActionResponse{}, err
	}
	select {
	case <-ctx.Done():
		a.notify.Error(fmt.Sprintf("Action %s timed out", action.Name))
		return protocol.ActionResponse{}, ctx.Err()
	case resp := <-got:
		if !resp.Success {
			msg := resp.Response
			if msg == "" {
				msg = "unknown error"
			}
			a.notify.Error(fmt.Sprintf("Action %s failed: %s", action.Name, msg))
			return resp, fmt.Errorf("action %s: %s", action.Name, msg)
		}
		if resp.Response != "" {
			a.notify.Info(resp.Response)
		}
		return resp, nil
	}
}

// UploadFiles runs files through the upload policy of the current settings.
// Every rejection is reported; accepted files are uploaded.
func (a *App) UploadFiles(ctx context.Context, files []upload.File, progress upload.Progress) upload.Outcome {
	policy := upload.PolicyFromFeature(a.Settings().Features.SpontaneousFileUpload)
	out := upload.NewPipeline(policy, a.currentUploader()).WithProgress(progress).Submit(ctx, files, func(p upload.Payload) {
		log.Printf("chat: uploading %s (%d bytes, %s)", p.Name, p.Size, p.Type)
	})
	for _, r := range out.Rejected {
		a.notify.Error(r.Error())
	}
	return out
}
