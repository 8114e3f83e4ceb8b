// Package discovery implements the Discovery Advertiser (C8): a
// best-effort DNS-SD / mDNS announcement of the daemon's listen port,
// using github.com/grandcat/zeroconf since nothing in the retrieval
// pack carries an mDNS library (see DESIGN.md).
package discovery

import (
	"fmt"
	"log"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type from SPEC_FULL.md §6.3.
	ServiceType = "_wormhole._tcp"
	// Domain is the DNS-SD domain from SPEC_FULL.md §6.3.
	Domain = "local."
)

// Advertiser owns the lifetime of the zeroconf registration.
type Advertiser struct {
	logger *log.Logger
	server *zeroconf.Server
}

// New constructs an Advertiser bound to no server yet; call Start to
// register.
func New(logger *log.Logger) *Advertiser {
	return &Advertiser{logger: logger}
}

// Start registers the service. Per SPEC_FULL.md §4.8, failure to
// advertise must never prevent the daemon from serving: Start returns
// the registration error to its caller and leaves the Advertiser
// unregistered; wormholed's main logs that error and keeps serving.
func (a *Advertiser) Start(instanceName string, port int) error {
	server, err := zeroconf.Register(instanceName, ServiceType, Domain, port, nil, nil)
	if err != nil {
		return fmt.Errorf("discovery: register: %w", err)
	}
	a.server = server
	a.logf("discovery: advertising %s as %s on port %d", ServiceType, instanceName, port)
	return nil
}

// Stop unregisters the service, if one was successfully started.
func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

func (a *Advertiser) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
