package errors

// Error codes for the bus contracts. Keep stable; used across adapters, the
// tenant layer, and the bus.
const (
	ErrCodeTenantMismatch       = "tenantbus.tenant_mismatch"
	ErrCodeEventTypeNotAllowed  = "tenantbus.event_type_not_allowed"
	ErrCodeTenantInactive       = "tenantbus.tenant_inactive"
	ErrCodeRateLimited          = "tenantbus.rate_limited"
	ErrCodePublishFailed        = "tenantbus.publish_failed"
	ErrCodeAppendFailed         = "tenantbus.append_failed"
	ErrCodeSerializationFailed  = "tenantbus.serialization_failed"
	ErrCodeGroupExists          = "tenantbus.group_exists"
	ErrCodeStreamNotFound       = "tenantbus.stream_not_found"
	ErrCodeBusStopped           = "tenantbus.bus_stopped"
	ErrCodeStoreUnavailable     = "tenantbus.store_unavailable"
	ErrCodeSubscriptionRejected = "tenantbus.subscription_rejected"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrTenantMismatch       = Code(ErrCodeTenantMismatch)
	ErrEventTypeNotAllowed  = Code(ErrCodeEventTypeNotAllowed)
	ErrTenantInactive       = Code(ErrCodeTenantInactive)
	ErrRateLimited          = Code(ErrCodeRateLimited)
	ErrPublishFailed        = Code(ErrCodePublishFailed)
	ErrAppendFailed         = Code(ErrCodeAppendFailed)
	ErrSerializationFailed  = Code(ErrCodeSerializationFailed)
	ErrGroupExists          = Code(ErrCodeGroupExists)
	ErrStreamNotFound       = Code(ErrCodeStreamNotFound)
	ErrBusStopped           = Code(ErrCodeBusStopped)
	ErrStoreUnavailable     = Code(ErrCodeStoreUnavailable)
	ErrSubscriptionRejected = Code(ErrCodeSubscriptionRejected)
)
