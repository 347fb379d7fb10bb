// Package conversation drives multi-step dialogs that collect validated fields
// from a chat user and hand them to a completion callback.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/syncx"
)

// Input is one message from the user: text or an image reference.
type Input struct {
	Text     string
	ImageRef string
}

// Validator turns raw input into the canonical field value, or returns the rejection message as an error.
type Validator func(in Input) (string, error)

type Step struct {
	Field    string
	Prompt   string
	Validate Validator
}

// CompleteFunc runs once all steps are collected. Its text becomes the final reply.
type CompleteFunc func(ctx context.Context, userID int64, fields Fields) (string, error)

type Flow struct {
	Name     string
	Steps    []Step
	Complete CompleteFunc
	// Restricted flows can only be started by users the engine's Authorizer allows.
	Restricted bool
}

// Reply is what the chat layer shows after Start or Submit.
type Reply struct {
	Text string
	// Done is set when the flow completed and its state was cleared.
	Done bool
	// Rejected is set when the input failed validation; the same step is still waiting.
	Rejected bool
}

// Authorizer decides who may start restricted flows.
type Authorizer func(userID int64) bool

type Engine struct {
	flows     map[string]Flow
	store     Store
	locks     *syncx.KeyedMutex[int64]
	authorize Authorizer
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.authorize = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("conversation: state store must not be nil")
	}
	e := &Engine{
		flows:     make(map[string]Flow),
		store:     store,
		locks:     syncx.NewKeyedMutex[int64](),
		authorize: func(int64) bool { return false },
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register adds a flow. Flows are registered at startup, before the engine serves users.
func (e *Engine) Register(flow Flow) error {
	if flow.Name == "" {
		return errors.New("conversation: flow name must not be empty")
	}
	if len(flow.Steps) == 0 {
		return fmt.Errorf("conversation: flow %q has no steps", flow.Name)
	}
	if flow.Complete == nil {
		return fmt.Errorf("conversation: flow %q has no completion callback", flow.Name)
	}
	for i, s := range flow.Steps {
		if s.Field == "" || s.Validate == nil {
			return fmt.Errorf("conversation: flow %q step %d needs a field and a validator", flow.Name, i)
		}
	}
	if _, dup := e.flows[flow.Name]; dup {
		return fmt.Errorf("conversation: flow %q already registered", flow.Name)
	}
	e.flows[flow.Name] = flow
	return nil
}

// Start begins flowName for the user, discarding any dialog in progress.
func (e *Engine) Start(ctx context.Context, userID int64, flowName string) (Reply, error) {
	flow, ok := e.flows[flowName]
	if !ok {
		return Reply{}, apperr.New(apperr.NotFound, "unknown_flow", nil)
	}
	if flow.Restricted && !e.authorize(userID) {
		e.logger.Warn("Restricted flow denied", "user_id", userID, "flow", flowName)
		return Reply{}, apperr.New(apperr.Forbidden, "", nil)
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	state := State{Flow: flowName, Step: 0, Fields: Fields{}, UpdatedAt: e.now()}
	if err := e.store.Put(ctx, userID, state); err != nil {
		return Reply{}, apperr.New(apperr.Internal, "state_store", err)
	}
	return Reply{Text: flow.Steps[0].Prompt}, nil
}

// Submit feeds one input into the user's current step.
func (e *Engine) Submit(ctx context.Context, userID int64, in Input) (Reply, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	state, ok, err := e.store.Get(ctx, userID)
	if err != nil {
		return Reply{}, apperr.New(apperr.Internal, "state_store", err)
	}
	if !ok {
		return Reply{}, apperr.New(apperr.NoActiveFlow, "", nil)
	}
	flow, ok := e.flows[state.Flow]
	if !ok || state.Step < 0 || state.Step >= len(flow.Steps) {
		// Stale state written by a build with different flows.
		_ = e.store.Delete(ctx, userID)
		return Reply{}, apperr.New(apperr.NoActiveFlow, "", nil)
	}

	step := flow.Steps[state.Step]
	value, err := step.Validate(in)
	if err != nil {
		return Reply{Text: err.Error(), Rejected: true}, nil
	}

	fields := state.Fields.clone()
	fields[step.Field] = value

	if state.Step+1 < len(flow.Steps) {
		next := State{Flow: state.Flow, Step: state.Step + 1, Fields: fields, UpdatedAt: e.now()}
		if err := e.store.Put(ctx, userID, next); err != nil {
			return Reply{}, apperr.New(apperr.Internal, "state_store", err)
		}
		return Reply{Text: flow.Steps[next.Step].Prompt}, nil
	}

	if err := e.store.Delete(ctx, userID); err != nil {
		return Reply{}, apperr.New(apperr.Internal, "state_store", err)
	}
	text, err := flow.Complete(ctx, userID, fields)
	if err != nil {
		e.logger.Info("Flow completion failed", "user_id", userID, "flow", flow.Name, "err", err)
		return Reply{Done: true}, err
	}
	return Reply{Text: text, Done: true}, nil
}

// Cancel drops the user's dialog. It is a no-op when nothing is in progress.
func (e *Engine) Cancel(ctx context.Context, userID int64) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	if err := e.store.Delete(ctx, userID); err != nil {
		return apperr.New(apperr.Internal, "state_store", err)
	}
	return nil
}

// Active returns the name of the flow in progress, if any.
func (e *Engine) Active(ctx context.Context, userID int64) (string, bool, error) {
	state, ok, err := e.store.Get(ctx, userID)
	if err != nil {
		return "", false, apperr.New(apperr.Internal, "state_store", err)
	}
	return state.Flow, ok, nil
}
