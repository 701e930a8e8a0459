package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reclaimer pairs every successful Create with exactly one Destroy.
type Reclaimer struct {
	logger         *zap.Logger
	provider       Provider
	createTimeout  time.Duration
	cleanupTimeout time.Duration
	onCleanupError func(error)
}

// ReclaimerOption defines a functional option for Reclaimer
type ReclaimerOption func(*Reclaimer)

// WithCleanupErrorHook is called for every failed Destroy.
func WithCleanupErrorHook(fn func(error)) ReclaimerOption {
	return func(r *Reclaimer) {
		r.onCleanupError = fn
	}
}

// NewReclaimer creates a Reclaimer for the provider.
func NewReclaimer(logger *zap.Logger, provider Provider, createTimeout, cleanupTimeout time.Duration, opts ...ReclaimerOption) *Reclaimer {
	r := &Reclaimer{
		logger:         logger,
		provider:       provider,
		createTimeout:  createTimeout,
		cleanupTimeout: cleanupTimeout,
		onCleanupError: func(error) {},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Scope creates an instance, hands it to fn and destroys it afterwards, even
// when fn panics. Only creation errors are returned; destroy errors are logged
// and reported to the cleanup hook.
func (r *Reclaimer) Scope(ctx context.Context, spec Spec, fn func(Instance)) error {
	createCtx, cancel := context.WithTimeout(ctx, r.createTimeout)
	inst, err := r.provider.Create(createCtx, spec)
	cancel()
	if err != nil {
		if errors.Is(err, ErrInfrastructure) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	defer r.release(ctx, inst)

	fn(inst)
	return nil
}

func (r *Reclaimer) release(ctx context.Context, inst Instance) {
	// the request context may already be done; cleanup still has to run
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cleanupTimeout)
	defer cancel()

	if err := inst.Destroy(cleanupCtx); err != nil {
		r.logger.Error("failed to destroy sandbox instance",
			zap.String("provider", r.provider.Name()),
			zap.String("instance", inst.ID()),
			zap.Error(err))
		r.onCleanupError(err)
		return
	}

	r.logger.Debug("sandbox instance destroyed", zap.String("instance", inst.ID()))
}
