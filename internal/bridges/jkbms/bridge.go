package jkbms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge operation constants.
const (
	// streamBufferSize is the read size for serial streams.
	streamBufferSize = 512
)

// Bridge turns raw JK02 frames into Home Assistant MQTT publications.
// It handles:
//   - Receiving frames from the MQTT frames topic or a serial stream
//   - Decoding them against the device registry
//   - Publishing descriptors, settings and state
//   - Optional recording, time-series export and metrics
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts      BridgeOptions
	mqtt      MQTTClient
	decoder   *Decoder
	recorder  FrameRecorder
	telemetry TelemetryWriter
	metrics   *Metrics
	health    *HealthReporter
	latest    *snapshotStore

	onUpdate   func(BatteryUpdate)
	onUpdateMu sync.RWMutex

	stats   counters
	stopped atomic.Bool

	// streamMu orders ConsumeStream's wg.Add against Stop's wg.Wait
	streamMu sync.Mutex

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// FrameRecorder records decoded frames for auditing.
// It is optional - if nil, the bridge operates without recording.
type FrameRecorder interface {
	// RecordFrame records one decoded frame of the given device.
	RecordFrame(addr Address, frameType FrameType, cellCount int)
}

// TelemetryWriter receives decoded telemetry as time-series points.
// This interface is satisfied by *influxdb.Client.
type TelemetryWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies the bridge in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Topics are the frame, values and registration roots.
	Topics Topics

	// QoS is used for the frame subscription and all publications.
	QoS byte

	// RetainDescriptors publishes discovery configs with the retain flag.
	RetainDescriptors bool

	// SubscribeFrames subscribes to Topics.Frames on Start.
	// Disable when frames only come from a serial port.
	SubscribeFrames bool

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Decoder is optional; a decoder with an empty registry is created if nil.
	Decoder *Decoder

	// Recorder is optional frame audit storage.
	Recorder FrameRecorder

	// Telemetry is optional time-series export.
	Telemetry TelemetryWriter

	// Metrics is optional Prometheus instrumentation.
	Metrics *Metrics

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Topics.Values == "" || opts.Topics.Registration == "" {
		return nil, fmt.Errorf("values and registration topics are required")
	}
	if opts.SubscribeFrames && opts.Topics.Frames == "" {
		return nil, fmt.Errorf("frames topic is required when subscribing")
	}

	decoder := opts.Decoder
	if decoder == nil {
		decoder = NewDecoder(nil)
	}

	b := &Bridge{
		opts:      opts,
		mqtt:      opts.MQTTClient,
		decoder:   decoder,
		recorder:  opts.Recorder,  // May be nil (optional)
		telemetry: opts.Telemetry, // May be nil (optional)
		metrics:   opts.Metrics,   // May be nil (optional)
		latest:    newSnapshotStore(),
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.BridgeID,
		Version:    opts.Version,
		Interval:   opts.HealthInterval,
		Topic:      HealthTopic(opts.Topics.Values),
		Publisher:  opts.MQTTClient,
		Stats:      b.Stats,
		DeviceFunc: decoder.Registry().Len,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to the frames topic (if enabled) and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if b.opts.SubscribeFrames {
		if err := b.mqtt.Subscribe(b.opts.Topics.Frames, b.opts.QoS, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to frames: %w", err)
		}
		b.logInfo("subscribed to frames", "topic", b.opts.Topics.Frames)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.opts.BridgeID,
		"values_topic", b.opts.Topics.Values,
		"registration_topic", b.opts.Topics.Registration)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.streamMu.Lock()
		b.stopped.Store(true)
		b.streamMu.Unlock()
		close(b.done)

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for stream consumers
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage processes a raw frame received on the frames topic.
func (b *Bridge) handleMQTTMessage(_ string, payload []byte) {
	b.HandleFrame(payload)
}

// HandleFrame decodes one raw payload and publishes the result.
//
// Logging follows the frame outcome: invalid frames are dropped silently,
// unsupported types are warned about, unregistered devices are logged at
// debug level and decode defects are logged as errors. None of them affect
// later frames.
func (b *Bridge) HandleFrame(payload []byte) {
	if b.stopped.Load() {
		return
	}

	msgs, err := b.ProcessFrame(payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidFrame):
			// Unrelated bus traffic is expected
		case errors.Is(err, ErrUnsupportedFrameType):
			b.logWarn("unsupported frame type", "error", err)
		case errors.Is(err, ErrNotRegistered):
			b.logDebug("cell info before settings, skipped", "reason", err.Error())
		default:
			b.logError("failed to decode frame", fmt.Errorf("payload_len=%d: %w", len(payload), err))
		}
		return
	}

	for _, m := range msgs {
		if err := b.mqtt.Publish(m.Topic, m.Payload, b.opts.QoS, m.Retained); err != nil {
			b.stats.publishErrors.Add(1)
			if b.metrics != nil {
				b.metrics.ObservePublishError()
			}
			b.logError("failed to publish", fmt.Errorf("topic=%s: %w", m.Topic, err))
			continue
		}
		b.stats.published.Add(1)
	}
}

// ProcessFrame decodes one raw payload, updates counters and side outputs,
// and returns the publications without sending them.
func (b *Bridge) ProcessFrame(payload []byte) ([]Message, error) {
	b.stats.received.Add(1)

	res, err := b.decoder.Decode(payload)
	if err != nil {
		b.countFailure(err)
		return nil, err
	}

	msgs, err := res.Messages(b.opts.Topics, b.opts.RetainDescriptors)
	if err != nil {
		b.countFailure(err)
		return nil, err
	}

	b.stats.decoded.Add(1)
	if b.metrics != nil {
		b.metrics.ObserveFrame(ResultDecoded)
	}

	addr := res.Frame.Address
	if res.CellCountErr != nil {
		b.logWarn("BMS not registered", "address", addr.String(), "reason", res.CellCountErr.Error())
	}
	if res.Registered {
		devices := b.decoder.Registry().Len()
		if b.metrics != nil {
			b.metrics.SetDevices(devices)
		}
		b.logInfo("new BMS registered",
			"address", addr.String(),
			"cells", res.CellCount,
			"descriptors", DescriptorCount(res.CellCount))
	}

	if b.recorder != nil {
		b.recorder.RecordFrame(addr, res.Frame.Type, res.CellCount)
	}
	if dev, ok := b.decoder.Registry().Device(addr); ok {
		snap := b.latest.update(dev, res)
		b.notifyUpdate(BatteryUpdate{Snapshot: snap, FrameType: res.Frame.Type, Registered: res.Registered})
	}

	switch {
	case res.Settings != nil:
		b.logDebug("update settings", "address", addr.String())
	case res.Telemetry != nil:
		b.logDebug("update cell info", "address", addr.String(), "cells", res.CellCount)
		if b.metrics != nil {
			b.metrics.ObserveTelemetry(addr, res.Telemetry)
		}
		if b.telemetry != nil {
			writeTelemetry(b.telemetry, addr, res.Telemetry)
		}
	}

	return msgs, nil
}

func (b *Bridge) countFailure(err error) {
	result := ResultError
	switch {
	case errors.Is(err, ErrInvalidFrame):
		result = ResultInvalid
		b.stats.invalid.Add(1)
	case errors.Is(err, ErrUnsupportedFrameType):
		result = ResultUnsupported
		b.stats.unsupported.Add(1)
	case errors.Is(err, ErrNotRegistered):
		result = ResultUnregistered
		b.stats.unregistered.Add(1)
	default:
		b.stats.decodeErrors.Add(1)
	}
	if b.metrics != nil {
		b.metrics.ObserveFrame(result)
	}
}

// ConsumeStream reads a raw RS485 byte stream, cuts it into frames and
// handles each one. It returns when ctx is cancelled, the bridge stops,
// or the reader fails. io.EOF is returned as nil.
//
// The reader should return periodically (e.g. a serial port with a read
// timeout) so cancellation is noticed.
func (b *Bridge) ConsumeStream(ctx context.Context, r io.Reader) error {
	b.streamMu.Lock()
	if b.stopped.Load() {
		b.streamMu.Unlock()
		return ErrBridgeStopped
	}
	b.wg.Add(1)
	b.streamMu.Unlock()
	defer b.wg.Done()

	framer := NewStreamFramer()
	buf := make([]byte, streamBufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		default:
		}

		n, err := r.Read(buf)
		for _, frame := range framer.Write(buf[:n]) {
			b.HandleFrame(frame)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}

// Snapshot returns the latest decoded data for one device.
func (b *Bridge) Snapshot(addr Address) (BatterySnapshot, bool) {
	return b.latest.get(addr)
}

// Snapshots returns the latest decoded data for every device, by address.
func (b *Bridge) Snapshots() []BatterySnapshot {
	return b.latest.all()
}

// Devices returns the devices registered since start.
func (b *Bridge) Devices() []DeviceInfo {
	return b.decoder.Registry().Devices()
}

// Device returns one registered device.
func (b *Bridge) Device(addr Address) (DeviceInfo, bool) {
	return b.decoder.Registry().Device(addr)
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// SetOnUpdate registers a hook called after every decoded frame with the
// device's merged snapshot. The hook runs on the frame path and must not block.
func (b *Bridge) SetOnUpdate(fn func(BatteryUpdate)) {
	b.onUpdateMu.Lock()
	b.onUpdate = fn
	b.onUpdateMu.Unlock()
}

func (b *Bridge) notifyUpdate(u BatteryUpdate) {
	b.onUpdateMu.RLock()
	fn := b.onUpdate
	b.onUpdateMu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// Stats holds frame and publication counters.
type Stats struct {
	FramesReceived     uint64 `json:"frames_received"`
	FramesDecoded      uint64 `json:"frames_decoded"`
	FramesInvalid      uint64 `json:"frames_invalid"`
	FramesUnsupported  uint64 `json:"frames_unsupported"`
	FramesUnregistered uint64 `json:"frames_unregistered"`
	DecodeErrors       uint64 `json:"decode_errors"`
	MessagesPublished  uint64 `json:"messages_published"`
	PublishErrors      uint64 `json:"publish_errors"`
}

type counters struct {
	received      atomic.Uint64
	decoded       atomic.Uint64
	invalid       atomic.Uint64
	unsupported   atomic.Uint64
	unregistered  atomic.Uint64
	decodeErrors  atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesReceived:     b.stats.received.Load(),
		FramesDecoded:      b.stats.decoded.Load(),
		FramesInvalid:      b.stats.invalid.Load(),
		FramesUnsupported:  b.stats.unsupported.Load(),
		FramesUnregistered: b.stats.unregistered.Load(),
		DecodeErrors:       b.stats.decodeErrors.Load(),
		MessagesPublished:  b.stats.published.Load(),
		PublishErrors:      b.stats.publishErrors.Load(),
	}
}

// Connected reports whether the MQTT client is connected.
func (b *Bridge) Connected() bool {
	return b.mqtt.IsConnected()
}
