package nats_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-tenant-bus/adapters/nats"
	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
)

func TestNewWithNATSEmptyURL(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{})
	if err == nil {
		t.Fatal("expected error")
	}

	if !errors.Is(err, berr.ErrAppendFailed) {
		t.Fatalf("want ErrAppendFailed, got %v", err)
	}
}
