package errors_test

import (
	"errors"
	"testing"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePublishFailed)
	if e.Error() != berr.ErrCodePublishFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrTenantMismatch, berr.ErrCodeTenantMismatch},
		{berr.ErrEventTypeNotAllowed, berr.ErrCodeEventTypeNotAllowed},
		{berr.ErrTenantInactive, berr.ErrCodeTenantInactive},
		{berr.ErrRateLimited, berr.ErrCodeRateLimited},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrAppendFailed, berr.ErrCodeAppendFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrGroupExists, berr.ErrCodeGroupExists},
		{berr.ErrStreamNotFound, berr.ErrCodeStreamNotFound},
		{berr.ErrBusStopped, berr.ErrCodeBusStopped},
		{berr.ErrStoreUnavailable, berr.ErrCodeStoreUnavailable},
		{berr.ErrSubscriptionRejected, berr.ErrCodeSubscriptionRejected},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}
