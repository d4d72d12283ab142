package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// This file implements the "opaque transport over the bus" RPC substrate
// spec.md calls for: request/response pairs carried as pub/sub messages,
// correlated by a request id, rather than a direct connection. It is used
// both for coordinator→builder calls (BuildPackage, CancelBuild) and for
// builder/coordinator→database calls.

const defaultCallTimeout = 10 * time.Second

type envelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func requestChannel(service string) string {
	return "rpc." + service
}

func replyChannel(id string) string {
	return "rpc.reply." + id
}

// Call dispatches method on service, blocking for a reply or ctx
// cancellation. result may be nil when the method has no return value.
func (b *Bus) Call(ctx context.Context, service, method string, params, result any) error {
	id := uuid.NewString()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal rpc params: %w", err)
	}

	sub := b.Subscribe(ctx, replyChannel(id))
	defer sub.Close()

	req := envelope{ID: id, Method: method, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rpc envelope: %w", err)
	}
	if err := b.Publish(ctx, requestChannel(service), body); err != nil {
		return fmt.Errorf("publish rpc request: %w", err)
	}

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return fmt.Errorf("rpc %s.%s: reply channel closed", service, method)
		}
		var rep reply
		if err := json.Unmarshal([]byte(msg.Payload), &rep); err != nil {
			return fmt.Errorf("unmarshal rpc reply: %w", err)
		}
		if rep.Error != "" {
			return fmt.Errorf("rpc %s.%s: %s", service, method, rep.Error)
		}
		if result != nil && len(rep.Result) > 0 {
			if err := json.Unmarshal(rep.Result, result); err != nil {
				return fmt.Errorf("unmarshal rpc result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallWithTimeout is Call with a bounded deadline applied on top of ctx.
func (b *Bus) CallWithTimeout(ctx context.Context, timeout time.Duration, service, method string, params, result any) error {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.Call(cctx, service, method, params, result)
}

// Handler processes one RPC method call and returns its result (or an
// error, which is sent back to the caller rather than raised locally —
// RPC boundaries never let errors escape as exceptions, see job status
// normalization in builder.BuildPackage).
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

// Server dispatches incoming calls for one service name to registered
// method handlers.
type Server struct {
	bus     *Bus
	service string
	methods map[string]Handler
}

func NewServer(b *Bus, service string) *Server {
	return &Server{bus: b, service: service, methods: map[string]Handler{}}
}

func (s *Server) Handle(method string, h Handler) {
	s.methods[method] = h
}

// Serve blocks, dispatching requests until ctx is canceled. Each request is
// handled in its own goroutine so a slow handler cannot stall dispatch of
// unrelated calls.
func (s *Server) Serve(ctx context.Context) error {
	sub := s.bus.Subscribe(ctx, requestChannel(s.service))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			go s.dispatch(ctx, msg.Payload)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, payload string) {
	var req envelope
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return
	}

	h, ok := s.methods[req.Method]
	if !ok {
		s.respondErr(ctx, req.ID, fmt.Sprintf("unknown method %q", req.Method))
		return
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		s.respondErr(ctx, req.ID, err.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.respondErr(ctx, req.ID, err.Error())
		return
	}
	rep := reply{ID: req.ID, Result: resultJSON}
	body, err := json.Marshal(rep)
	if err != nil {
		return
	}
	_ = s.bus.Publish(ctx, replyChannel(req.ID), body)
}

func (s *Server) respondErr(ctx context.Context, id, msg string) {
	rep := reply{ID: id, Error: msg}
	body, err := json.Marshal(rep)
	if err != nil {
		return
	}
	_ = s.bus.Publish(ctx, replyChannel(id), body)
}
