package recon

import (
	"github.com/go-kit/kit/metrics"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
)

type metricsService struct {
	service  Service
	events   metrics.Counter
	rejected metrics.Counter
	rounds   metrics.Counter
	deltaOps metrics.Counter
}

func NewMetricsService(s Service, events metrics.Counter, rejected metrics.Counter, rounds metrics.Counter, deltaOps metrics.Counter) Service {

	return &metricsService{
		service:  s,
		events:   events,
		rejected: rejected,
		rounds:   rounds,
		deltaOps: deltaOps,
	}
}

func (s *metricsService) Bootstrap() error {
	return s.service.Bootstrap()
}

func (s *metricsService) HandleIncomingEvent(op crdt.Operation) error {

	err := s.service.HandleIncomingEvent(op)

	s.events.Add(1)
	if err != nil {
		s.rejected.Add(1)
	}

	return err
}

func (s *metricsService) ReconcileWithPeer(digest comm.Digest) []crdt.Operation {

	delta := s.service.ReconcileWithPeer(digest)

	s.rounds.Add(1)
	s.deltaOps.Add(float64(len(delta)))

	return delta
}

func (s *metricsService) HandleReconciliationRequest(digest comm.Digest) []crdt.Operation {

	delta := s.service.HandleReconciliationRequest(digest)

	s.rounds.Add(1)
	s.deltaOps.Add(float64(len(delta)))

	return delta
}

func (s *metricsService) MergeDelta(remote comm.Digest, ops []crdt.Operation) error {

	err := s.service.MergeDelta(remote, ops)

	s.events.Add(float64(len(ops)))

	return err
}

func (s *metricsService) Digest() comm.Digest {
	return s.service.Digest()
}

func (s *metricsService) Visible() []crdt.Node {
	return s.service.Visible()
}

func (s *metricsService) VisibleText() string {
	return s.service.VisibleText()
}

func (s *metricsService) Actor() string {
	return s.service.Actor()
}

func (s *metricsService) Insert(posBefore crdt.LogicalId, value string) (crdt.Operation, error) {

	op, err := s.service.Insert(posBefore, value)
	s.events.Add(1)

	return op, err
}

func (s *metricsService) Delete(target crdt.LogicalId) (crdt.Operation, error) {

	op, err := s.service.Delete(target)
	s.events.Add(1)

	return op, err
}

func (s *metricsService) Update(target crdt.LogicalId, value string) (crdt.Operation, error) {

	op, err := s.service.Update(target, value)
	s.events.Add(1)

	return op, err
}

func (s *metricsService) Format(target crdt.LogicalId, style map[string]string) (crdt.Operation, error) {

	op, err := s.service.Format(target, style)
	s.events.Add(1)

	return op, err
}
