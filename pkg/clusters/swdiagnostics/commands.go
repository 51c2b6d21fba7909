package swdiagnostics

import (
	"context"

	"github.com/matterkeep/sessiond/pkg/datamodel"
	"github.com/matterkeep/sessiond/pkg/tlv"
)

// InvokeCommand implements datamodel.Cluster.
func (c *Cluster) InvokeCommand(ctx context.Context, req datamodel.InvokeRequest, r *tlv.Reader) ([]byte, error) {
	switch req.Path.Command {
	case CmdResetWatermarks:
		return nil, c.resetWatermarks()
	default:
		return nil, datamodel.ErrUnsupportedCommand
	}
}

// resetWatermarks sets CurrentHeapHighWatermark to CurrentHeapUsed, per
// Spec 11.13.7.1. Commands only exist on the accepted command list when
// the cluster was built with a watermark-supporting DataProvider.
func (c *Cluster) resetWatermarks() error {
	if c.config.Data == nil || !c.config.Data.SupportsWatermarks() {
		return datamodel.ErrUnsupportedCommand
	}
	return c.config.Data.ResetWatermarks()
}
