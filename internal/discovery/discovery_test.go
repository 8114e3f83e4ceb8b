package discovery

import "testing"

func TestStopBeforeStartIsSafe(t *testing.T) {
	a := New(nil)
	a.Stop() // must not panic when nothing was ever registered
}

func TestServiceTypeAndDomainMatchWireConstants(t *testing.T) {
	if ServiceType != "_wormhole._tcp" {
		t.Fatalf("unexpected service type: %s", ServiceType)
	}
	if Domain != "local." {
		t.Fatalf("unexpected domain: %s", Domain)
	}
}
