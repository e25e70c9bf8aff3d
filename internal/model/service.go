package model

import "time"

// ServiceDefinition is immutable reference data describing a bookable service.
type ServiceDefinition struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Duration     time.Duration `json:"duration"`
	BufferBefore time.Duration `json:"buffer_before"`
	BufferAfter  time.Duration `json:"buffer_after"`
}

// Buffers returns the service's pre/post buffers.
func (s *ServiceDefinition) Buffers() Buffers {
	return Buffers{Before: s.BufferBefore, After: s.BufferAfter}
}

// EffectiveRange extends a billable range with the service's buffers.
func (s *ServiceDefinition) EffectiveRange(billable TimeRange) TimeRange {
	return s.Buffers().Expand(billable)
}

// Validate validates the service definition.
func (s *ServiceDefinition) Validate() error {
	if s.ID == "" || s.Duration <= 0 || s.BufferBefore < 0 || s.BufferAfter < 0 {
		return ErrInvalidService
	}

	return nil
}
