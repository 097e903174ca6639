package recon

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
)

// Structs

type loggingService struct {
	logger  log.Logger
	service Service
}

// Functions

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {

	return &loggingService{
		logger:  logger,
		service: s,
	}
}

// Bootstrap wraps this service's Bootstrap method
// with added logging capabilities.
func (s *loggingService) Bootstrap() error {

	err := s.service.Bootstrap()

	logger := log.With(s.logger,
		"method", "Bootstrap",
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to replay persisted operation log", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

// HandleIncomingEvent wraps this service's HandleIncomingEvent
// method with added logging capabilities.
func (s *loggingService) HandleIncomingEvent(op crdt.Operation) error {

	err := s.service.HandleIncomingEvent(op)

	logger := log.With(s.logger,
		"method", "HandleIncomingEvent",
		"op", string(op.Kind),
		"id", op.ID.String(),
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to process incoming operation", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

// ReconcileWithPeer wraps this service's ReconcileWithPeer
// method with added logging capabilities.
func (s *loggingService) ReconcileWithPeer(digest comm.Digest) []crdt.Operation {

	delta := s.service.ReconcileWithPeer(digest)

	level.Debug(s.logger).Log(
		"method", "ReconcileWithPeer",
		"deltaOps", len(delta),
	)

	return delta
}

// HandleReconciliationRequest wraps this service's
// HandleReconciliationRequest method with added logging capabilities.
func (s *loggingService) HandleReconciliationRequest(digest comm.Digest) []crdt.Operation {

	delta := s.service.HandleReconciliationRequest(digest)

	level.Debug(s.logger).Log(
		"method", "HandleReconciliationRequest",
		"deltaOps", len(delta),
	)

	return delta
}

// MergeDelta wraps this service's MergeDelta method
// with added logging capabilities.
func (s *loggingService) MergeDelta(remote comm.Digest, ops []crdt.Operation) error {

	err := s.service.MergeDelta(remote, ops)

	logger := log.With(s.logger,
		"method", "MergeDelta",
		"ops", len(ops),
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to merge operation delta", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

// Digest wraps this service's Digest method.
func (s *loggingService) Digest() comm.Digest {
	return s.service.Digest()
}

// Visible wraps this service's Visible method.
func (s *loggingService) Visible() []crdt.Node {
	return s.service.Visible()
}

// VisibleText wraps this service's VisibleText method.
func (s *loggingService) VisibleText() string {
	return s.service.VisibleText()
}

// Actor wraps this service's Actor method.
func (s *loggingService) Actor() string {
	return s.service.Actor()
}

// Insert wraps this service's Insert method
// with added logging capabilities.
func (s *loggingService) Insert(posBefore crdt.LogicalId, value string) (crdt.Operation, error) {

	op, err := s.service.Insert(posBefore, value)

	if err != nil {
		level.Info(s.logger).Log("msg", "failed to originate insert", "err", err)
	}

	return op, err
}

// Delete wraps this service's Delete method
// with added logging capabilities.
func (s *loggingService) Delete(target crdt.LogicalId) (crdt.Operation, error) {

	op, err := s.service.Delete(target)

	if err != nil {
		level.Info(s.logger).Log("msg", "failed to originate delete", "err", err)
	}

	return op, err
}

// Update wraps this service's Update method
// with added logging capabilities.
func (s *loggingService) Update(target crdt.LogicalId, value string) (crdt.Operation, error) {

	op, err := s.service.Update(target, value)

	if err != nil {
		level.Info(s.logger).Log("msg", "failed to originate update", "err", err)
	}

	return op, err
}

// Format wraps this service's Format method
// with added logging capabilities.
func (s *loggingService) Format(target crdt.LogicalId, style map[string]string) (crdt.Operation, error) {

	op, err := s.service.Format(target, style)

	if err != nil {
		level.Info(s.logger).Log("msg", "failed to originate format", "err", err)
	}

	return op, err
}
