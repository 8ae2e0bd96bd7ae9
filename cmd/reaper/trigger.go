package main

import (
	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

// triggerRequest builds a reap request from command flags. A payload wins over
// label and zone; empty flags fall back to REAPER_LABEL and REAPER_ZONE.
func triggerRequest(label, zone, payload string) (models.ReapRequest, error) {
	var req models.ReapRequest
	if payload != "" {
		decoded, err := services.DecodeReapPayload(payload)
		if err != nil {
			return req, err
		}
		req = decoded
	} else {
		req = models.ReapRequest{Label: label, Zone: zone}
		if req.Label == "" {
			req.Label = cfg.ReaperLabel
		}
		if req.Zone == "" {
			req.Zone = cfg.ReaperZone
		}
	}
	return req, services.ValidateReapRequest(req)
}
