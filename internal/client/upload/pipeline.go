package upload

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Payload is a file read into memory and ready for the transport.
type Payload struct {
	ID   string
	Name string
	Size int64
	Type string
	Data []byte
}

// Ref identifies an uploaded file on the server side.
type Ref struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	ObjectKey string `json:"objectKey,omitempty"`
}

// Progress reports bytes sent for one file.
type Progress func(fileID string, sent, total int64)

// Uploader hands a payload to the backend.
type Uploader interface {
	Upload(ctx context.Context, p Payload, progress Progress) (Ref, error)
}

// Outcome summarises one Submit call.
type Outcome struct {
	Uploaded []Ref
	Rejected []Rejection
}

type Pipeline struct {
	policy      Policy
	uploader    Uploader
	concurrency int
	progress    Progress
}

func NewPipeline(policy Policy, uploader Uploader) *Pipeline {
	return &Pipeline{policy: policy, uploader: uploader, concurrency: 4}
}

func (p *Pipeline) WithConcurrency(n int) *Pipeline {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

func (p *Pipeline) WithProgress(fn Progress) *Pipeline {
	p.progress = fn
	return p
}

func (p *Pipeline) Policy() Policy { return p.policy }

// Submit validates files, reads the accepted ones and uploads them. onAccept
// runs once per file that passed every check, before its upload starts;
// calls are serialized. Failures of one file never stop the rest.
func (p *Pipeline) Submit(ctx context.Context, files []File, onAccept func(Payload)) Outcome {
	accepted, rejected := p.policy.Validate(files)

	var (
		mu  sync.Mutex
		out = Outcome{Rejected: rejected}
	)
	reject := func(r Rejection) {
		mu.Lock()
		out.Rejected = append(out.Rejected, r)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, f := range accepted {
		g.Go(func() error {
			payload, rej, ok := p.read(f)
			if !ok {
				reject(rej)
				return nil
			}
			if onAccept != nil {
				mu.Lock()
				onAccept(payload)
				mu.Unlock()
			}
			if p.uploader == nil {
				mu.Lock()
				out.Uploaded = append(out.Uploaded, Ref{ID: payload.ID, Name: payload.Name})
				mu.Unlock()
				return nil
			}
			ref, err := p.uploader.Upload(gctx, payload, p.progress)
			if err != nil {
				log.Printf("upload: %s failed: %v", payload.Name, err)
				reject(Rejection{File: payload.Name, Code: CodeUploadFailed, Message: err.Error()})
				return nil
			}
			mu.Lock()
			out.Uploaded = append(out.Uploaded, ref)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// read loads a file, enforcing the size limit on the real content since the
// declared size may lie.
func (p *Pipeline) read(f File) (Payload, Rejection, bool) {
	if f.Open == nil {
		return Payload{}, Rejection{File: f.Name, Code: CodeReadFailed, Message: "file has no content"}, false
	}
	rc, err := f.Open()
	if err != nil {
		return Payload{}, Rejection{File: f.Name, Code: CodeReadFailed, Message: err.Error()}, false
	}
	defer rc.Close()

	var r io.Reader = rc
	if p.policy.MaxSizeBytes > 0 {
		r = io.LimitReader(rc, p.policy.MaxSizeBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, Rejection{File: f.Name, Code: CodeReadFailed, Message: fmt.Sprintf("read: %v", err)}, false
	}
	if p.policy.MaxSizeBytes > 0 && int64(len(data)) > p.policy.MaxSizeBytes {
		return Payload{}, p.policy.tooLarge(f.Name), false
	}
	mimeType := DetectType(f.Name, f.Type, data)
	if !p.policy.Allows(f.Name, mimeType) {
		return Payload{}, Rejection{
			File: f.Name, Code: CodeInvalidType,
			Message: fmt.Sprintf("file type %q is not accepted", mimeType),
		}, false
	}
	return Payload{
		ID:   uuid.NewString(),
		Name: f.Name,
		Size: int64(len(data)),
		Type: mimeType,
		Data: data,
	}, Rejection{}, true
}
