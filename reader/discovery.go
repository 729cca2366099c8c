package reader

import (
	"context"
	"fmt"

	"meterflow/config"
	"meterflow/logger"
)

// Discovery resolves which meters to monitor. Configured or flag-supplied
// ids always win over API discovery; the tracking pipeline downstream is
// indifferent to how meters were selected.
type Discovery struct {
	cfg    *config.Config
	client *Client
	log    *logger.Log
}

func NewDiscovery(cfg *config.Config, client *Client) *Discovery {
	return &Discovery{cfg: cfg, client: client, log: logger.GetLogger()}
}

// SelectMeters returns the monitoring set. Priority: explicit override ids,
// then config meters.manual_ids, then API discovery.
func (d *Discovery) SelectMeters(ctx context.Context, overrideIDs []string) ([]Meter, error) {
	log := d.log.WithComponent("discovery")

	ids := overrideIDs
	if len(ids) == 0 {
		ids = d.cfg.Meters.ManualIDs
	}
	if len(ids) > 0 {
		meters := make([]Meter, 0, len(ids))
		for _, id := range ids {
			meters = append(meters, Meter{ID: id, Name: fmt.Sprintf("configured-%s", id)})
		}
		log.WithFields(logger.Fields{"count": len(meters)}).Info("using configured meter ids")
		return meters, nil
	}

	meters, err := d.client.GetMeters(ctx)
	if err != nil {
		return nil, err
	}
	if len(meters) == 0 {
		log.Warn("no meters discovered for this account")
	}
	return meters, nil
}
