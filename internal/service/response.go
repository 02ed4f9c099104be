package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/documents"
	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"gorm.io/datatypes"
)

type ResponseAction string

const (
	ResponseGenerate ResponseAction = "generate"
	ResponseUpload   ResponseAction = "upload"
	ResponseSign     ResponseAction = "sign"
	ResponseRevoke   ResponseAction = "revoke"
	ResponseUnrevoke ResponseAction = "unrevoke"
)

// ResponsePayload carries the inputs of a response action; each action reads only its own fields.
type ResponsePayload struct {
	Reason   string
	FileName string
	Content  []byte
}

// ResponseLifecycle manages the reply to confirmation and verification tickets:
// unsigned -> signed -> signed+revoked -> signed. Generate and upload are refused while signed,
// revoked or not.
type ResponseLifecycle struct {
	*core
	renderer documents.Renderer
	storage  documents.Storage
}

func (r *ResponseLifecycle) Apply(ctx context.Context, id uint64, actor string, action ResponseAction, p ResponsePayload) (*model.ConfirmationResponse, error) {
	switch action {
	case ResponseGenerate:
		return r.Generate(ctx, id, actor)
	case ResponseUpload:
		return r.Upload(ctx, id, actor, p.FileName, p.Content)
	case ResponseSign:
		return r.Sign(ctx, id, actor)
	case ResponseRevoke:
		return r.Revoke(ctx, id, actor, p.Reason)
	case ResponseUnrevoke:
		return r.Unrevoke(ctx, id, actor)
	}
	return nil, errs.Invalid("unknown response action %q", action)
}

func (r *ResponseLifecycle) Get(ctx context.Context, id uint64) (*model.ConfirmationResponse, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := supportsResponse(t); err != nil {
		return nil, err
	}
	resp, err := r.store.GetResponse(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	if resp == nil {
		return nil, errs.New(errs.ErrResponseMissing, t.ID, string(t.Status), "no response yet")
	}
	return resp, nil
}

// Download opens the stored file of the current response.
func (r *ResponseLifecycle) Download(ctx context.Context, id uint64) (*model.ConfirmationResponse, io.ReadCloser, error) {
	resp, err := r.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r.storage == nil {
		return nil, nil, errors.New("document storage not configured")
	}
	rc, err := r.storage.Open(ctx, resp.FileRef)
	if err != nil {
		return nil, nil, fmt.Errorf("open response file: %w", err)
	}
	return resp, rc, nil
}

// Generate renders the ticket details and stores them as a new unsigned revision.
func (r *ResponseLifecycle) Generate(ctx context.Context, id uint64, actor string) (*model.ConfirmationResponse, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	if r.renderer == nil || r.storage == nil {
		return nil, errors.New("document renderer not configured")
	}
	t, prev, err := r.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := r.renderer.Render(t, revisionOf(prev)+1, r.now())
	if err != nil {
		return nil, err
	}
	return r.replace(ctx, t, prev, actor, model.ResponseGenerated, doc)
}

// Upload stores caller-supplied content as a new unsigned revision.
func (r *ResponseLifecycle) Upload(ctx context.Context, id uint64, actor, name string, content []byte) (*model.ConfirmationResponse, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, errs.Invalid("uploaded file is empty")
	}
	if r.storage == nil {
		return nil, errors.New("document storage not configured")
	}
	t, prev, err := r.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = t.RequestNumber
	}
	return r.replace(ctx, t, prev, actor, model.ResponseUploaded, documents.Document{Name: name, Content: content})
}

// editable is the pre-check done before touching storage; replace checks again at commit time.
func (r *ResponseLifecycle) editable(ctx context.Context, id uint64) (*model.Ticket, *model.ConfirmationResponse, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	resp, err := r.store.GetResponse(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get response: %w", err)
	}
	if err := checkEditable(t, resp); err != nil {
		return nil, nil, errs.WithTicket(err, t.ID, string(t.Status))
	}
	return t, resp, nil
}

func checkEditable(t *model.Ticket, resp *model.ConfirmationResponse) error {
	if err := supportsResponse(t); err != nil {
		return err
	}
	if !t.Status.Active() {
		return errs.New(errs.ErrTicketNotActive, t.ID, string(t.Status), "responses need a paid, not cancelled ticket")
	}
	if resp != nil && resp.Signed {
		return errs.New(errs.ErrResponseLocked, t.ID, string(t.Status), "response is signed")
	}
	return nil
}

func (r *ResponseLifecycle) replace(ctx context.Context, t *model.Ticket, prev *model.ConfirmationResponse, actor string, src model.ResponseSource, doc documents.Document) (*model.ConfirmationResponse, error) {
	ref, err := r.storage.Put(ctx, t.ID, doc.Name, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("store response file: %w", err)
	}
	expected := revisionOf(prev)
	var out *model.ConfirmationResponse
	_, err = r.mutate(ctx, t.ID, func(cur *model.Ticket, now time.Time) (mutation, error) {
		resp, err := r.store.GetResponse(ctx, cur.ID)
		if err != nil {
			return mutation{}, err
		}
		if err := checkEditable(cur, resp); err != nil {
			return mutation{}, err
		}
		if revisionOf(resp) != expected {
			return mutation{}, errs.New(errs.ErrConflict, cur.ID, string(cur.Status), "response changed concurrently, retry")
		}
		next := &model.ConfirmationResponse{TicketID: cur.ID, CreatedAt: now}
		if resp != nil {
			next = resp
		}
		next.Source = src
		next.FileRef = ref
		next.FileName = doc.Name
		next.Revision = expected + 1
		next.CreatedBy = actor
		next.UpdatedAt = now
		out = next
		return responseMutation(actor, now, ResponseGenerate, next, datatypes.JSONMap{
			"action":   actionFor(src),
			"source":   string(src),
			"file_ref": ref,
		}), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ResponseLifecycle) Sign(ctx context.Context, id uint64, actor string) (*model.ConfirmationResponse, error) {
	return r.transition(ctx, id, actor, ResponseSign, func(t *model.Ticket, resp *model.ConfirmationResponse, now time.Time) (datatypes.JSONMap, error) {
		if !t.Status.Active() {
			return nil, errs.New(errs.ErrTicketNotActive, t.ID, string(t.Status), "cannot sign")
		}
		if resp.Signed {
			return nil, errs.New(errs.ErrResponseLocked, t.ID, string(t.Status), "already signed")
		}
		resp.Signed = true
		resp.SignedAt = &now
		resp.SignedBy = actor
		return datatypes.JSONMap{}, nil
	})
}

// Revoke hides a signed response from the requester. The signature stays.
func (r *ResponseLifecycle) Revoke(ctx context.Context, id uint64, actor, reason string) (*model.ConfirmationResponse, error) {
	reason = strings.TrimSpace(reason)
	return r.transition(ctx, id, actor, ResponseRevoke, func(t *model.Ticket, resp *model.ConfirmationResponse, now time.Time) (datatypes.JSONMap, error) {
		if !resp.Signed {
			return nil, errs.New(errs.ErrNotSigned, t.ID, string(t.Status), "only signed responses can be revoked")
		}
		if resp.Revoked {
			return nil, errs.New(errs.ErrAlreadyRevoked, t.ID, string(t.Status), "")
		}
		if reason == "" {
			return nil, errs.New(errs.ErrMissingReason, t.ID, string(t.Status), "revocation reason is required")
		}
		resp.Revoked = true
		resp.RevocationReason = reason
		resp.RevokedAt = &now
		resp.RevokedBy = actor
		return datatypes.JSONMap{"reason": reason}, nil
	})
}

// Unrevoke makes the response visible again. It stays signed, so it still cannot be edited.
func (r *ResponseLifecycle) Unrevoke(ctx context.Context, id uint64, actor string) (*model.ConfirmationResponse, error) {
	return r.transition(ctx, id, actor, ResponseUnrevoke, func(t *model.Ticket, resp *model.ConfirmationResponse, _ time.Time) (datatypes.JSONMap, error) {
		if !resp.Revoked {
			return nil, errs.New(errs.ErrNotRevoked, t.ID, string(t.Status), "")
		}
		resp.Revoked = false
		return datatypes.JSONMap{"revoked_reason": resp.RevocationReason}, nil
	})
}

type responseStep func(t *model.Ticket, resp *model.ConfirmationResponse, now time.Time) (datatypes.JSONMap, error)

// transition runs a sign/revoke/unrevoke step on the existing response under the ticket version check.
func (r *ResponseLifecycle) transition(ctx context.Context, id uint64, actor string, action ResponseAction, step responseStep) (*model.ConfirmationResponse, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	var out *model.ConfirmationResponse
	_, err = r.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		if err := supportsResponse(t); err != nil {
			return mutation{}, err
		}
		resp, err := r.store.GetResponse(ctx, t.ID)
		if err != nil {
			return mutation{}, err
		}
		if resp == nil {
			return mutation{}, errs.New(errs.ErrResponseMissing, t.ID, string(t.Status), "generate or upload a response first")
		}
		payload, err := step(t, resp, now)
		if err != nil {
			return mutation{}, err
		}
		resp.UpdatedAt = now
		payload["action"] = string(action)
		payload["revision"] = resp.Revision
		out = resp
		return responseMutation(actor, now, action, resp, payload), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func responseMutation(actor string, now time.Time, action ResponseAction, resp *model.ConfirmationResponse, payload datatypes.JSONMap) mutation {
	if _, ok := payload["revision"]; !ok {
		payload["revision"] = resp.Revision
	}
	name := "ticket.response_" + string(action)
	if a, ok := payload["action"].(string); ok {
		name = "ticket.response_" + a
	}
	return mutation{
		response: resp,
		entries:  []model.ActivityEntry{entry(actor, model.ActionResponse, now, payload)},
		events:   []event{{name: name, extra: map[string]interface{}{"revision": resp.Revision, "visible": resp.Visible()}}},
	}
}

func supportsResponse(t *model.Ticket) error {
	if !t.Kind.HasResponse() {
		return errs.New(errs.ErrUnsupportedKind, t.ID, string(t.Status), "%s tickets have no response", t.Kind)
	}
	return nil
}

func revisionOf(r *model.ConfirmationResponse) int {
	if r == nil {
		return 0
	}
	return r.Revision
}

func actionFor(src model.ResponseSource) string {
	if src == model.ResponseUploaded {
		return string(ResponseUpload)
	}
	return string(ResponseGenerate)
}
