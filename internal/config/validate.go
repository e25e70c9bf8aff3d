package config

import (
	"errors"
	"fmt"
	"time"
)

// leaseMargin is the slack SENDING_LEASE must keep over one delivery round.
const leaseMargin = 10 * time.Second

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q",
			StorageDriverPostgres, StorageDriverMemory, c.StorageDriver))
	}

	if c.DispatchPollInterval <= 0 {
		errs = append(errs, errors.New("DISPATCH_POLL_INTERVAL must be positive"))
	}

	if c.DispatchBatchSize <= 0 || c.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE and DISPATCH_WORKERS must be positive"))
	}

	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("RETRY_BASE_DELAY must be positive and not exceed RETRY_MAX_DELAY"))
	}

	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}

	if c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT must be positive"))
	}

	if c.SendingLease <= c.DeliveryTimeout+leaseMargin {
		errs = append(errs, fmt.Errorf("SENDING_LEASE (%s) must exceed DELIVERY_TIMEOUT (%s) by more than %s",
			c.SendingLease, c.DeliveryTimeout, leaseMargin))
	}

	if c.PendingHoldTTL < 0 {
		errs = append(errs, errors.New("PENDING_HOLD_TTL must not be negative"))
	}

	return errors.Join(errs...)
}
