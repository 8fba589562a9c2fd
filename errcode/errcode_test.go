package errcode

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]Code{
		"reserved_address": ReservedAddress,
		"bus_locked":       BusLocked,
		"address_nack":     AddressNack,
		"stuck_bus":        StuckBus,
		"lease_revoked":    LeaseRevoked,
		"task_fault":       TaskFault,
	}
	for want, c := range cases {
		if c.Error() != want {
			t.Fatalf("code %q mismatch: got %q", want, c.Error())
		}
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for c := range statusOf {
		if got := FromStatus(Status(c)); got != c {
			t.Fatalf("%s: round trip gave %s", c, got)
		}
	}
	if Status(OK) != 0 {
		t.Fatal("OK must be status 0")
	}
	if FromStatus(0xDEAD) != Error {
		t.Fatal("unknown status should map to Error")
	}
	if Status(Code("made_up")) != Status(Error) {
		t.Fatal("unregistered code should map to Error status")
	}
}

func TestStatusWordsUnique(t *testing.T) {
	seen := map[uint32]Code{}
	for c, s := range statusOf {
		if prev, dup := seen[s]; dup {
			t.Fatalf("status %d shared by %s and %s", s, prev, c)
		}
		seen[s] = c
	}
}

func TestOfUnwrapsContext(t *testing.T) {
	base := Wrap(BusTimeout, "write_read", nil)
	wrapped := fmt.Errorf("ctrl 1: %w", base)

	if Of(wrapped) != BusTimeout {
		t.Fatalf("Of = %s", Of(wrapped))
	}
	if !errors.Is(wrapped, BusTimeout) {
		t.Fatal("errors.Is should match the wrapped code")
	}
	if got := Of(&E{C: MuxMissing, Err: AddressNack}); got != MuxMissing {
		t.Fatalf("outer code should win, got %s", got)
	}
	if Of(nil) != OK {
		t.Fatal("nil should be OK")
	}
	if Of(errors.New("plain")) != Error {
		t.Fatal("plain errors fall back to Error")
	}
	if got := base.Error(); got != "write_read: bus_timeout" {
		t.Fatalf("E.Error() = %q", got)
	}
}

func TestClasses(t *testing.T) {
	cases := []struct {
		c    Code
		want Class
	}{
		{ReservedAddress, ClassConfiguration},
		{UnknownSegment, ClassConfiguration},
		{BusLocked, ClassConcurrency},
		{DataNack, ClassProtocol},
		{StuckBus, ClassElectrical},
		{TaskFault, ClassTransport},
		{OK, ClassNone},
	}
	for _, tc := range cases {
		if got := ClassOf(tc.c); got != tc.want {
			t.Errorf("ClassOf(%s) = %s, want %s", tc.c, got, tc.want)
		}
	}
	if !IsUnknownComponent(UnknownMux) || IsUnknownComponent(ReservedAddress) {
		t.Fatal("IsUnknownComponent misclassifies")
	}
}

func TestRetryHelpers(t *testing.T) {
	if !IsTemporary(BusLocked) || IsTemporary(AddressNack) {
		t.Fatal("IsTemporary misclassifies")
	}
	if d, ok := RetryDelay(BusTimeout); !ok || d != 100*time.Millisecond {
		t.Fatalf("RetryDelay(BusTimeout) = %v, %v", d, ok)
	}
	if _, ok := RetryDelay(DataNack); ok {
		t.Fatal("DataNack has no retry delay")
	}
	if !IsDeviceNotFound(AddressNack) || IsDeviceNotFound(DataNack) {
		t.Fatal("IsDeviceNotFound misclassifies")
	}
}
