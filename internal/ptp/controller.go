package ptp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/core"
	"github.com/fleetvision/orchestrator/internal/obs"
)

// HistorySink receives one row per poll, keyed by camera id, so callers can
// persist offset history without this package knowing about file formats.
type HistorySink interface {
	RecordPoll(sampleIndex int, offsetsByCameraID map[string]int64)
}

// Controller runs the cluster-wide PTP synchronization state machine.
type Controller struct {
	cfg     Config
	logger  *logrus.Logger
	rings   map[string]*Ring
	sink    HistorySink
	pollNum int
}

// NewController creates a controller with the given configuration. A nil
// sink is allowed when the caller does not need offset history persisted.
func NewController(cfg Config, sink HistorySink) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: obs.Log,
		rings:  make(map[string]*Ring),
		sink:   sink,
	}
}

// OffsetHistory returns the bounded ring of offset samples recorded for one
// camera id so far.
func (c *Controller) OffsetHistory(cameraID string) []OffsetSample {
	r, ok := c.rings[cameraID]
	if !ok {
		return nil
	}
	return r.Values()
}

// Run drives the cluster through EnablingPTP -> WaitingForRoles ->
// VerifyingOffset -> Synchronized|Failed for the given opened cameras.
func (c *Controller) Run(ctx context.Context, cluster []Camera) (Result, error) {
	n := len(cluster)

	if err := c.enablePTP(cluster); err != nil {
		return Result{State: StateFailed}, err
	}

	if n < 2 {
		// A single camera has no master/slave contract to satisfy.
		return Result{State: StateSynchronized, MasterCount: 0, SlaveCount: 0}, nil
	}

	pollInterval := time.Duration(c.cfg.PollInterval) * time.Millisecond
	deadline := time.Now().Add(time.Duration(c.cfg.MonitorPtpStatusTimeout) * time.Millisecond)

	state := StateWaitingForRoles
	consecutivePasses := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Poll immediately rather than waiting a full interval for the first
	// sample.
	poll := func() (Result, error) {
		return c.pollOnce(cluster, state, &consecutivePasses)
	}

	res, err := poll()
	if err != nil {
		return res, err
	}
	if res.State == StateSynchronized {
		return res, nil
	}
	state = res.State

	for {
		select {
		case <-ctx.Done():
			return Result{State: StateFailed}, fmt.Errorf("%w: %v", core.ErrPtpSyncTimeout, ctx.Err())

		case <-ticker.C:
			if state == StateWaitingForRoles && time.Now().After(deadline) {
				return Result{State: StateFailed}, fmt.Errorf("%w: roles did not converge within %dms", core.ErrPtpSyncTimeout, c.cfg.MonitorPtpStatusTimeout)
			}

			res, err := c.pollOnce(cluster, state, &consecutivePasses)
			if err != nil {
				return res, err
			}
			if res.State == StateSynchronized {
				return res, nil
			}
			state = res.State
		}
	}
}

func (c *Controller) enablePTP(cluster []Camera) error {
	for _, cam := range cluster {
		if err := cam.SetPtp(true); err != nil {
			return fmt.Errorf("enabling PTP on %s: %w", cam.Identity().ID, err)
		}
	}
	return nil
}

// pollOnce latches every camera's PTP state exactly once, records history,
// and evaluates the transition for the given state.
func (c *Controller) pollOnce(cluster []Camera, state State, consecutivePasses *int) (Result, error) {
	c.pollNum++
	offsets := make(map[string]int64, len(cluster))
	roles := make(map[string]camera.Role, len(cluster))

	var nMaster, nSlave, nInit int
	for _, cam := range cluster {
		id := cam.Identity().ID
		snap, err := cam.LatchPtpState()
		if err != nil {
			return Result{State: StateFailed}, fmt.Errorf("latching PTP state for %s: %w", id, err)
		}

		switch snap.Role {
		case camera.RoleMaster:
			nMaster++
		case camera.RoleSlave:
			nSlave++
		default:
			nInit++
		}

		offsets[id] = snap.OffsetFromMasterNs
		roles[id] = snap.Role

		ring, ok := c.rings[id]
		if !ok {
			ring = NewRing(c.cfg.TimeWindowSize)
			c.rings[id] = ring
		}
		ring.Push(OffsetSample{OffsetNs: snap.OffsetFromMasterNs, TimestampNs: snap.LatchedTimestampNs})
	}

	if c.sink != nil {
		c.sink.RecordPoll(c.pollNum, offsets)
	}

	n := len(cluster)
	rolesConverged := nMaster == 1 && nSlave == n-1 && nInit == 0
	result := Result{MasterCount: nMaster, SlaveCount: nSlave, InitCount: nInit, LastOffsets: offsets}

	switch state {
	case StateWaitingForRoles:
		if rolesConverged {
			result.State = StateVerifyingOffset
			return result, nil
		}
		result.State = StateWaitingForRoles
		return result, nil

	case StateVerifyingOffset:
		if !rolesConverged {
			// A role regression sends us back to WaitingForRoles.
			*consecutivePasses = 0
			result.State = StateWaitingForRoles
			return result, nil
		}

		withinBound := true
		for id, role := range roles {
			if role != camera.RoleSlave {
				continue
			}
			mean, _ := c.rings[id].Stats()
			if math.Abs(mean) > float64(c.cfg.PtpOffsetThresholdNs) {
				withinBound = false
				break
			}
		}
		if withinBound {
			*consecutivePasses++
		} else {
			*consecutivePasses = 0
		}

		if *consecutivePasses >= c.cfg.PtpMaxCheck {
			result.State = StateSynchronized
			return result, nil
		}
		result.State = StateVerifyingOffset
		return result, nil
	}

	result.State = state
	return result, nil
}
