package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"chatwire/internal/client/api"
	"chatwire/internal/protocol"
)

// Emitter is the part of the transport the socket uploader needs.
type Emitter interface {
	Emit(event string, payload any) error
}

// SocketUploader sends the whole file as one file_upload event.
type SocketUploader struct {
	Transport Emitter
}

func (u SocketUploader) Upload(_ context.Context, p Payload, progress Progress) (Ref, error) {
	if u.Transport == nil {
		return Ref{}, fmt.Errorf("transport is nil")
	}
	err := u.Transport.Emit(protocol.EventFileUpload, protocol.FileUpload{
		ID: p.ID, Name: p.Name, Size: p.Size, Type: p.Type, Data: p.Data,
	})
	if err != nil {
		return Ref{}, err
	}
	if progress != nil {
		progress(p.ID, p.Size, p.Size)
	}
	return Ref{ID: p.ID, Name: p.Name}, nil
}

const defaultChunkSize = 64 << 10

// HTTPUploader streams a multipart POST /project/file in chunks and reports
// progress as each chunk is written.
type HTTPUploader struct {
	API       *api.Client
	SessionID string
	ChunkSize int
}

func (u HTTPUploader) Upload(ctx context.Context, p Payload, progress Progress) (Ref, error) {
	if u.API == nil {
		return Ref{}, fmt.Errorf("api client is nil")
	}
	chunk := u.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMultipart(mw, p, chunk, progress)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	path := "/project/file"
	if sid := strings.TrimSpace(u.SessionID); sid != "" {
		path += "?session_id=" + url.QueryEscape(sid)
	}
	req, err := u.API.NewRequest(ctx, http.MethodPost, path, pr)
	if err != nil {
		_ = pr.Close()
		return Ref{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var ref Ref
	if apiErr := u.API.Do(req, &ref); apiErr != nil {
		_ = pr.CloseWithError(apiErr)
		return Ref{}, apiErr
	}
	if ref.ID == "" {
		ref.ID = p.ID
	}
	if ref.Name == "" {
		ref.Name = p.Name
	}
	return ref, nil
}

func writeMultipart(mw *multipart.Writer, p Payload, chunk int, progress Progress) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, p.Name))
	h.Set("Content-Type", p.Type)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	var sent int64
	for off := 0; off < len(p.Data); off += chunk {
		end := off + chunk
		if end > len(p.Data) {
			end = len(p.Data)
		}
		n, err := part.Write(p.Data[off:end])
		sent += int64(n)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(p.ID, sent, p.Size)
		}
	}
	if len(p.Data) == 0 && progress != nil {
		progress(p.ID, 0, 0)
	}
	return mw.WriteField("id", p.ID)
}
