// Licensed under the Apache-2.0 license

package verification

import (
	"errors"

	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// This file is used to test PSA-FF connections to RoT Services.

type rotService struct {
	sid     client.SID
	version uint32
}

// TestConnectExternSID connects to RoT Services the caller may use and
// closes the connections again.
func TestConnectExternSID(d client.TestPSAInstance, c client.PSAClient, t TB) {
	services := []rotService{
		{client.SIDServerTest, client.ServerTestVersion},
		{client.SIDServerStrictVersion, client.ServerStrictVersion},
	}
	if !client.IsNonSecure(d.GetClientID()) {
		services = append(services, rotService{client.SIDServerSecureOnly, client.ServerTestVersion})
	}

	for _, s := range services {
		handle, err := c.Connect(s.sid, s.version)
		if err != nil {
			t.Fatalf("[FATAL]: Connect to SID 0x%x version %d failed: %v", s.sid, s.version, err)
		}
		if handle <= client.NullHandle {
			t.Errorf("[ERROR]: Connect to SID 0x%x returned invalid handle %d", s.sid, handle)
			continue
		}
		if err := c.Close(handle); err != nil {
			t.Errorf("[ERROR]: Close of handle %d failed: %v", handle, err)
		}
	}

	// A service may turn connections down without it being a programmer error
	if _, err := c.Connect(client.SIDServerRefusing, client.ServerTestVersion); err == nil {
		t.Errorf("[ERROR]: Connect should return %q, but returned no error", client.StatusConnectionRefused)
	} else if !errors.Is(err, client.StatusConnectionRefused) {
		t.Errorf("[ERROR]: Incorrect error type. Connect should return %q, but returned %q", client.StatusConnectionRefused, err)
	}

	// Closing the null handle has no effect
	if err := c.Close(client.NullHandle); err != nil {
		t.Errorf("[ERROR]: Close of the null handle failed: %v", err)
	}
}

// TestUnexternSIDConnection connects to a RoT Service that is not exposed to
// any client partition. That is a programmer error, so the target must
// terminate the caller and reset.
func TestUnexternSIDConnection(d client.TestPSAInstance, c client.PSAClient, t TB) {
	v := ResetVerifier{Target: d, Flags: c}
	res := v.Run(func() CallOutcome {
		handle, err := c.Connect(client.SIDServerUnextern, client.ServerTestVersion)
		if err == nil {
			t.Logf("Connect to an unextern SID returned handle %d", handle)
		}
		return OutcomeOf(err)
	})

	switch res.Status {
	case StatusFail:
		t.Errorf("[ERROR]: Unextern SID connection should have failed but succeeded: %v", res.Err)
	case StatusError:
		t.Abortf("%v", res.Err)
	default:
		t.Logf("Target reset as expected (%v)", res.Outcome.Err)
	}
}
