package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvlink/server/internal/metrics"
	"github.com/tvlink/server/internal/push"
	"github.com/tvlink/server/internal/repo"
)

const pushTimeout = 10 * time.Second

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrForbidden      = errors.New("user is not linked to device")
	ErrNoChannel      = errors.New("no push address for device")
)

// Status is the reported outcome of a dispatched command.
type Status string

const (
	// StatusDelivered: the device acknowledged within the wait window.
	StatusDelivered Status = "delivered"
	// StatusQueuedNoAck: the gateway accepted the message but no ack arrived in time.
	StatusQueuedNoAck Status = "queued_no_ack"
	// StatusSendFailed: the gateway rejected the message.
	StatusSendFailed Status = "send_failed"
)

// Result is returned for every command that reached the push step.
type Result struct {
	CommandID string
	Status    Status
}

// AccessChecker answers whether a user may command a device.
type AccessChecker interface {
	HasAccess(ctx context.Context, userID, deviceID string) (bool, error)
}

type Options struct {
	AckWait      time.Duration
	PollInterval time.Duration
}

// Dispatcher sends commands to devices and correlates their acknowledgments.
type Dispatcher struct {
	devices repo.DeviceRepo
	access  AccessChecker
	gateway push.Gateway
	pending PendingTable
	opts    Options
	logger  *zap.Logger
	newID   func() string
}

func NewDispatcher(devices repo.DeviceRepo, access AccessChecker, gateway push.Gateway, pending PendingTable, opts Options, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		devices: devices,
		access:  access,
		gateway: gateway,
		pending: pending,
		opts:    opts,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// SendCommand validates, authorizes and pushes cmd, then waits for the device
// to acknowledge it. The call returns within AckWait of the push starting.
// Errors are returned only when nothing was pushed; gateway failures reported
// before the deadline come back as StatusSendFailed.
func (d *Dispatcher) SendCommand(ctx context.Context, userID, deviceID string, cmd Command) (Result, error) {
	if deviceID == "" {
		return Result{}, invalid("deviceId", "required")
	}
	if err := cmd.Normalize(); err != nil {
		metrics.Commands.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	device, err := d.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			metrics.Commands.WithLabelValues("not_found").Inc()
			return Result{}, ErrDeviceNotFound
		}
		return Result{}, fmt.Errorf("load device: %w", err)
	}

	ok, err := d.access.HasAccess(ctx, userID, deviceID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		metrics.Commands.WithLabelValues("forbidden").Inc()
		return Result{}, ErrForbidden
	}

	if !device.HasPushAddress() {
		metrics.Commands.WithLabelValues("no_channel").Inc()
		return Result{}, ErrNoChannel
	}

	commandID := d.newID()
	log := d.logger.With(
		zap.String("command_id", commandID),
		zap.String("device_id", deviceID),
		zap.String("action", string(cmd.Action)),
	)

	if err := d.pending.Insert(ctx, commandID, deviceID); err != nil {
		return Result{}, fmt.Errorf("register pending command: %w", err)
	}

	status := d.deliver(ctx, commandID, *device.PushAddress, cmd.Payload(commandID), log)
	return d.finish(Result{CommandID: commandID, Status: status}), nil
}

// deliver pushes the command and waits for its ack. The AckWait deadline starts
// before the push, so a slow gateway cannot extend it. A push still in flight
// at the deadline completes in the background and retires the record itself
// if it fails. A caller that disconnects ends the wait early.
func (d *Dispatcher) deliver(ctx context.Context, commandID, address string, payload map[string]string, log *zap.Logger) Status {
	start := time.Now()
	defer func() { metrics.AckWait.Observe(time.Since(start).Seconds()) }()

	deadline := time.NewTimer(d.opts.AckWait)
	defer deadline.Stop()
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	detached := context.WithoutCancel(ctx)
	pushed := make(chan error, 1)
	go func() {
		pushCtx, cancel := context.WithTimeout(detached, pushTimeout)
		defer cancel()

		err := d.gateway.Send(pushCtx, address, payload)
		if err != nil {
			log.Warn("push failed", zap.Error(err), zap.Duration("after", time.Since(start)))
			if rmErr := d.pending.Remove(detached, commandID); rmErr != nil {
				log.Error("failed to retire pending command", zap.Error(rmErr))
			}
		}
		pushed <- err
	}()

	take := func() bool {
		acked, err := d.pending.TakeIfAcked(detached, commandID)
		if err != nil {
			log.Warn("pending lookup failed", zap.Error(err))
			return false
		}
		return acked
	}

	push := pushed
	for {
		if take() {
			log.Info("command delivered", zap.Duration("waited", time.Since(start)))
			return StatusDelivered
		}

		select {
		case err := <-push:
			if err != nil {
				return StatusSendFailed
			}
			push = nil
		case <-ticker.C:
		case <-deadline.C:
			if take() {
				log.Info("command delivered", zap.Duration("waited", time.Since(start)))
				return StatusDelivered
			}
			if push != nil {
				log.Info("push still in flight at deadline")
			} else {
				log.Info("no ack before deadline")
			}
			return StatusQueuedNoAck
		case <-ctx.Done():
			log.Info("caller gone while waiting for ack")
			return StatusQueuedNoAck
		}
	}
}

func (d *Dispatcher) finish(r Result) Result {
	metrics.Commands.WithLabelValues(string(r.Status)).Inc()
	return r
}

// Acknowledge records that deviceID executed commandID. It returns false for
// unknown, expired, already retired or foreign commands.
func (d *Dispatcher) Acknowledge(ctx context.Context, deviceID, commandID string) (bool, error) {
	if commandID == "" {
		return false, invalid("commandId", "required")
	}

	ok, err := d.pending.MarkAcked(ctx, commandID, deviceID)
	if err != nil {
		return false, fmt.Errorf("mark acked: %w", err)
	}

	if ok {
		metrics.Acks.WithLabelValues("true").Inc()
	} else {
		metrics.Acks.WithLabelValues("false").Inc()
		d.logger.Debug("ack ignored", zap.String("command_id", commandID), zap.String("device_id", deviceID))
	}
	return ok, nil
}
