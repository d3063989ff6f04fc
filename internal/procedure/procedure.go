// Package procedure provides typed entry points for the adapter calls that
// predate generic events: an IP address assignment, a boot image record,
// and an accelerator state report.
//
// Each call builds one model.Event and hands it to an Invoker. The engine
// does the rest; nothing here touches the ledger directly.
package procedure

import (
	"context"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
)

// Resource type names and phases used by the built-in types.
const (
	ComputeNode = "ComputeNode"
	Accelerator = "Accelerator"

	PhaseIPAssigned   = "ip_assigned"
	PhaseBootImage    = "boot_image"
	PhaseStateBusAddr = "state_bus_addr"
)

// Invoker applies one event. *engine.Engine implements it.
type Invoker interface {
	Invoke(ctx context.Context, ev model.Event) (engine.Result, error)
}

// Call identifies who reported a change and when it happened.
type Call struct {
	Timestamp   model.Micros
	AdapterType string
	WorkItemID  int64
}

// SaveIPAddr records that DHCP handed ip to the node at lctn. The node's
// active record must already carry ip. A node that is active or halted
// is left alone (IgnoredByPolicy); otherwise the node moves to state I.
func SaveIPAddr(ctx context.Context, inv Invoker, lctn, ip string, call Call) (engine.Result, error) {
	return inv.Invoke(ctx, model.Event{
		Key:         model.Key{Type: ComputeNode, ID: lctn},
		Changes:     model.Fields{"IpAddr": model.String(ip)},
		Expect:      model.Fields{"IpAddr": model.String(ip)},
		Phase:       PhaseIPAssigned,
		Timestamp:   call.Timestamp,
		AdapterType: call.AdapterType,
		WorkItemID:  call.WorkItemID,
	})
}

// SaveBootImageInfo records the boot image the node at lctn will use.
func SaveBootImageInfo(ctx context.Context, inv Invoker, lctn, bootImageID string, call Call) (engine.Result, error) {
	return inv.Invoke(ctx, model.Event{
		Key:         model.Key{Type: ComputeNode, ID: lctn},
		Changes:     model.Fields{"BootImageId": model.String(bootImageID)},
		Phase:       PhaseBootImage,
		Timestamp:   call.Timestamp,
		AdapterType: call.AdapterType,
		WorkItemID:  call.WorkItemID,
	})
}

// SetAcceleratorStateBusAddr records an accelerator's state and bus
// address. Accelerators are keyed by node location plus their own location.
func SetAcceleratorStateBusAddr(ctx context.Context, inv Invoker, nodeLctn, lctn, state, busAddr string, call Call) (engine.Result, error) {
	return inv.Invoke(ctx, model.Event{
		Key: model.Key{Type: Accelerator, ID: model.CompositeID(nodeLctn, lctn)},
		Changes: model.Fields{
			"State":   model.String(state),
			"BusAddr": model.String(busAddr),
		},
		Phase:       PhaseStateBusAddr,
		Timestamp:   call.Timestamp,
		AdapterType: call.AdapterType,
		WorkItemID:  call.WorkItemID,
	})
}

// Legacy return codes understood by older adapters.
const (
	CodeInOrder    int64 = 0
	CodeOutOfOrder int64 = 1
	CodeIgnored    int64 = -1
)

// LegacyCode maps an outcome to the return code older adapters expect.
// Outcomes that did not touch the active record report CodeOutOfOrder,
// except policy ignores which report CodeIgnored.
func LegacyCode(o engine.Outcome) int64 {
	switch o {
	case engine.InOrder:
		return CodeInOrder
	case engine.IgnoredByPolicy:
		return CodeIgnored
	default:
		return CodeOutOfOrder
	}
}
