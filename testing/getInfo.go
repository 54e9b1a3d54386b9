// Licensed under the Apache-2.0 license

package verification

import (
	"github.com/ARM-software/psa-arch-tests/verification/client"
)

// This file is used to test the get info command.

// TestGetInfo tests calling GetInfo
func TestGetInfo(d client.TestPSAInstance, c client.PSAClient, t TB) {
	const minKeySlots uint32 = 4

	currentClient := d.GetClientID()
	defer d.SetClientID(currentClient)

	for _, id := range d.GetSupportedClients() {
		d.SetClientID(id)
		rsp, err := c.GetInfo()
		if err != nil {
			t.Fatalf("Unable to get info: %v", err)
		}
		if rsp.CryptoMajorVersion != d.GetCryptoMajorVersion() {
			t.Fatalf("Incorrect crypto version. 0x%04x != 0x%04x", d.GetCryptoMajorVersion(), rsp.CryptoMajorVersion)
		}
		if rsp.CryptoMinorVersion != d.GetCryptoMinorVersion() {
			t.Fatalf("Incorrect crypto version. 0x%04x != 0x%04x", d.GetCryptoMinorVersion(), rsp.CryptoMinorVersion)
		}
		if rsp.FrameworkMajorVersion != d.GetFrameworkMajorVersion() {
			t.Fatalf("Incorrect framework version. 0x%04x != 0x%04x", d.GetFrameworkMajorVersion(), rsp.FrameworkMajorVersion)
		}
		if rsp.FrameworkMinorVersion != d.GetFrameworkMinorVersion() {
			t.Fatalf("Incorrect framework version. 0x%04x != 0x%04x", d.GetFrameworkMinorVersion(), rsp.FrameworkMinorVersion)
		}
		if rsp.MaxKeySlots < minKeySlots {
			t.Fatalf("PSA targets must be able to hold at least %d keys.", minKeySlots)
		}
		if rsp.Flags != d.GetSupport().ToFlags() {
			t.Fatalf("Incorrect support flags. 0x%08x != 0x%08x", d.GetSupport().ToFlags(), rsp.Flags)
		}
	}
}
