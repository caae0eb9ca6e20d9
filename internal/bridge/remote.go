package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
)

// remoteHelper is the Helper (C2 contract) implementation backed by a live
// CDP remote object: the bridge instance evaluated into a frame's isolated
// world by Injector.EnsureFrameState. Every call is a Runtime.callFunctionOn
// against that object, by design — it is the only way to invoke a method on
// an object living in an isolated world without re-resolving it from the
// page world each time (spec.md §9, "Cross-execution-context handle use").
type remoteHelper struct {
	exec     cdp.Executor
	objectID runtime.RemoteObjectID
}

func newRemoteHelper(exec cdp.Executor, objectID runtime.RemoteObjectID) Helper {
	return &remoteHelper{exec: exec, objectID: objectID}
}

func (h *remoteHelper) Snapshot(ctx context.Context) (string, int, error) {
	var out struct {
		Text         string `json:"text"`
		ElementCount int    `json:"elementCount"`
	}
	if err := h.call(ctx, "snapshot", nil, &out); err != nil {
		return "", 0, err
	}
	return out.Text, out.ElementCount, nil
}

func (h *remoteHelper) Click(ctx context.Context, localRef string) error {
	return h.call(ctx, "click", []interface{}{localRef}, nil)
}

func (h *remoteHelper) Type(ctx context.Context, localRef, text string) error {
	return h.call(ctx, "type", []interface{}{localRef, text}, nil)
}

func (h *remoteHelper) ResolveContainer(ctx context.Context, localRef string) (interface{}, error) {
	var out interface{}
	err := h.call(ctx, "resolve_container", []interface{}{localRef}, &out)
	return out, err
}

func (h *remoteHelper) InspectPattern(ctx context.Context, localRef string, level int) (interface{}, error) {
	var out interface{}
	err := h.call(ctx, "inspect_pattern", []interface{}{localRef, level}, &out)
	return out, err
}

func (h *remoteHelper) ExtractAnchors(ctx context.Context, localRef string, level int) (interface{}, error) {
	var out interface{}
	err := h.call(ctx, "extract_anchors", []interface{}{localRef, level}, &out)
	return out, err
}

func (h *remoteHelper) ElementInfo(ctx context.Context, localRef string) (ElementInfo, error) {
	var out struct {
		Role       string            `json:"role"`
		Name       string            `json:"name"`
		Tag        string            `json:"tag"`
		Text       string            `json:"text"`
		Visible    bool              `json:"visible"`
		X          float64           `json:"x"`
		Y          float64           `json:"y"`
		Width      float64           `json:"width"`
		Height     float64           `json:"height"`
		Selector   string            `json:"selector"`
		Attributes map[string]string `json:"attributes"`
		IsIframe   bool              `json:"isIframe"`
	}
	if err := h.call(ctx, "element_info", []interface{}{localRef}, &out); err != nil {
		return ElementInfo{}, err
	}
	return ElementInfo{
		Role:       out.Role,
		Name:       out.Name,
		Tag:        out.Tag,
		Text:       out.Text,
		Visible:    out.Visible,
		Rect:       Rect{X: out.X, Y: out.Y, Width: out.Width, Height: out.Height},
		Selector:   out.Selector,
		Attributes: out.Attributes,
		IsIframe:   out.IsIframe,
	}, nil
}

// elementObjectID resolves localRef to the RemoteObjectID of the underlying
// DOM element, used only by the snapshot composer (C6) to pierce an iframe
// element down to the cdp.FrameID of its content document.
func (h *remoteHelper) elementObjectID(ctx context.Context, localRef string) (runtime.RemoteObjectID, error) {
	var out struct {
		ObjectID string `json:"objectId"`
	}
	if err := h.call(ctx, "element_object_id", []interface{}{localRef}, &out); err != nil {
		return "", err
	}
	if out.ObjectID == "" {
		return "", fmt.Errorf("bridge: no element for ref %q", localRef)
	}
	return runtime.RemoteObjectID(out.ObjectID), nil
}

func (h *remoteHelper) call(ctx context.Context, method string, args []interface{}, out interface{}) error {
	decl := fmt.Sprintf("function() { return this.%s.apply(this, arguments); }", method)

	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("bridge: marshal argument for %s: %w", method, err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: raw})
	}

	action := runtime.CallFunctionOn(decl).
		WithObjectID(h.objectID).
		WithArguments(callArgs).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		WithSilent(true)

	res, excp, err := action.Do(cdp.WithExecutor(ctx, h.exec))
	if err != nil {
		return fmt.Errorf("bridge: call %s: %w", method, err)
	}
	if excp != nil {
		return fmt.Errorf("bridge: %s threw: %s", method, excp.Text)
	}
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("bridge: unmarshal result of %s: %w", method, err)
	}
	return nil
}

// ping is a trivial call used by the injector to revalidate a stored
// handle before dispatching a real request (spec.md §4.3).
func (h *remoteHelper) ping(ctx context.Context) error {
	return h.call(ctx, "ping", nil, nil)
}
