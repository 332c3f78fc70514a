package conversation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"chatwire/internal/protocol"
	"chatwire/internal/types"

	"github.com/google/uuid"
)

// StoreFile saves an uploaded file under the session scope and keeps it
// pending until a client_message references it.
func (h *Hub) StoreFile(ctx context.Context, sessionID, id, name, mime string, data []byte) (types.Element, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return types.Element{}, fmt.Errorf("session id is required")
	}
	if !h.features.UploadEnabled {
		return types.Element{}, fmt.Errorf("file upload is disabled")
	}
	if limit := int64(h.features.UploadMaxSizeMB) << 20; limit > 0 && int64(len(data)) > limit {
		return types.Element{}, fmt.Errorf("file %s exceeds %d MB", name, h.features.UploadMaxSizeMB)
	}
	if id = strings.TrimSpace(id); id == "" {
		id = uuid.NewString()
	}
	if mime = strings.TrimSpace(mime); mime == "" {
		mime = http.DetectContentType(data)
	}
	objectName := id + "/" + baseName(name)
	if err := h.files.Put(ctx, sessionID, objectName, data, mime); err != nil {
		return types.Element{}, fmt.Errorf("store %s: %w", name, err)
	}
	url, err := h.files.GetURL(ctx, sessionID, objectName)
	if err != nil {
		return types.Element{}, err
	}
	if url == "" {
		url = FilePath(sessionID, objectName)
	}
	el := types.Element{
		ID:        id,
		Type:      elementType(mime),
		Name:      baseName(name),
		Display:   types.DisplayInline,
		URL:       url,
		ObjectKey: sessionID + "/" + objectName,
		Mime:      mime,
		Size:      humanSize(len(data)),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	pending := h.pending[sessionID]
	if pending == nil {
		pending = make(map[string]types.Element)
		h.pending[sessionID] = pending
	}
	pending[id] = el
	return el, nil
}

// FilePath is the gateway route serving a stored file.
func FilePath(scope, name string) string {
	return "/project/file/" + scope + "/" + name
}

func (h *Hub) takeFiles(sessionID string, refs []protocol.FileRef, threadID, forID string) []types.Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending := h.pending[sessionID]
	var out []types.Element
	for _, ref := range refs {
		el, ok := pending[ref.ID]
		if !ok {
			continue
		}
		delete(pending, ref.ID)
		el.ThreadID = threadID
		el.ForID = forID
		out = append(out, el)
	}
	return out
}

func (h *Hub) dropFiles(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, sessionID)
}

func baseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "file"
	}
	return name
}

func elementType(mime string) types.ElementType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return types.ElementImage
	case strings.HasPrefix(mime, "audio/"):
		return types.ElementAudio
	case strings.HasPrefix(mime, "video/"):
		return types.ElementVideo
	case mime == "application/pdf":
		return types.ElementPDF
	case strings.HasPrefix(mime, "text/"):
		return types.ElementText
	default:
		return types.ElementFile
	}
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
