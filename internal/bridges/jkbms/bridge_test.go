package jkbms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	publishErr    error
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// GetPublished returns publications whose topic starts with prefix.
func (m *MockMQTTClient) GetPublished(prefix string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if strings.HasPrefix(p.Topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// mockRecorder implements FrameRecorder for testing.
type mockRecorder struct {
	mu     sync.Mutex
	frames []FrameType
}

func (r *mockRecorder) RecordFrame(_ Address, frameType FrameType, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frameType)
}

// mockTelemetry implements TelemetryWriter for testing.
type mockTelemetry struct {
	mu     sync.Mutex
	points []mockPoint
}

type mockPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

func (w *mockTelemetry) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, mockPoint{measurement, tags, fields})
}

func newTestBridge(t *testing.T, mqtt *MockMQTTClient, mutate func(*BridgeOptions)) *Bridge {
	t.Helper()

	opts := BridgeOptions{
		BridgeID:        "jkbms-test",
		Version:         "test",
		Topics:          DefaultTopics(),
		SubscribeFrames: true,
		HealthInterval:  time.Hour,
		MQTTClient:      mqtt,
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	return b
}

func TestNewBridgeValidation(t *testing.T) {
	mqtt := NewMockMQTTClient()

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"no MQTT client", BridgeOptions{Topics: DefaultTopics()}},
		{"no values topic", BridgeOptions{MQTTClient: mqtt, Topics: Topics{Registration: "ha"}}},
		{"no registration topic", BridgeOptions{MQTTClient: mqtt, Topics: Topics{Values: "v"}}},
		{"subscribe without frames topic", BridgeOptions{
			MQTTClient:      mqtt,
			Topics:          Topics{Values: "v", Registration: "ha"},
			SubscribeFrames: true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() should fail")
			}
		})
	}
}

func TestBridgeStartSubscribes(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, func(o *BridgeOptions) { o.QoS = 1 })

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	subs := mqtt.GetSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "rs485tx/tx" || subs[0].QoS != 1 {
		t.Errorf("subscriptions = %+v", subs)
	}

	health := mqtt.GetPublished(HealthTopic(DefaultValuesRoot))
	if len(health) == 0 || !health[0].Retained {
		t.Fatal("no retained starting health message")
	}
	if !strings.Contains(string(health[0].Payload), `"status":"starting"`) {
		t.Errorf("first health message = %s", health[0].Payload)
	}
}

func TestBridgeWithoutFrameSubscription(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, func(o *BridgeOptions) {
		o.SubscribeFrames = false
		o.Topics.Frames = ""
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if subs := mqtt.GetSubscriptions(); len(subs) != 0 {
		t.Errorf("subscriptions = %+v, want none", subs)
	}
}

func TestBridgePublishesFromFramesTopic(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	mqtt.SimulateMessage("rs485tx/tx", cellInfoFrame(1))
	if got := mqtt.GetPublished("rs485tx/bms/01/"); len(got) != 0 {
		t.Fatalf("published %d messages before registration", len(got))
	}

	mqtt.SimulateMessage("rs485tx/tx", settingsFrame(1, 16))
	mqtt.SimulateMessage("rs485tx/tx", cellInfoFrame(1))

	descriptors := mqtt.GetPublished("homeassistant/")
	if len(descriptors) != DescriptorCount(16) {
		t.Errorf("published %d descriptors, want %d", len(descriptors), DescriptorCount(16))
	}
	for _, d := range descriptors {
		if d.Retained {
			t.Errorf("descriptor %s retained by default", d.Topic)
			break
		}
	}
	if got := mqtt.GetPublished("rs485tx/bms/01/settings"); len(got) != 1 {
		t.Errorf("settings published %d times, want 1", len(got))
	}
	if got := mqtt.GetPublished("rs485tx/bms/01/state"); len(got) != 1 {
		t.Errorf("state published %d times, want 1", len(got))
	}

	// A second Settings frame does not repeat the descriptors.
	mqtt.SimulateMessage("rs485tx/tx", settingsFrame(1, 16))
	if got := mqtt.GetPublished("homeassistant/"); len(got) != DescriptorCount(16) {
		t.Errorf("descriptors republished: %d", len(got))
	}

	stats := b.Stats()
	want := Stats{
		FramesReceived:     4,
		FramesDecoded:      3,
		FramesUnregistered: 1,
		MessagesPublished:  uint64(DescriptorCount(16) + 3),
	}
	if stats != want {
		t.Errorf("Stats() = %+v\nwant %+v", stats, want)
	}
}

func TestBridgeRetainDescriptors(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, func(o *BridgeOptions) { o.RetainDescriptors = true })

	b.HandleFrame(settingsFrame(1, 2))

	for _, d := range mqtt.GetPublished("homeassistant/") {
		if !d.Retained {
			t.Errorf("descriptor %s not retained", d.Topic)
		}
	}
	if s := mqtt.GetPublished("rs485tx/bms/01/settings"); len(s) != 1 || s[0].Retained {
		t.Error("settings should be published once, not retained")
	}
}

func TestBridgeCountsFailures(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, nil)

	b.HandleFrame([]byte("not a frame"))
	b.HandleFrame(newFrame(FrameType(0x05), 1).bytes())
	b.HandleFrame(cellInfoFrame(9))

	stats := b.Stats()
	if stats.FramesReceived != 3 || stats.FramesInvalid != 1 || stats.FramesUnsupported != 1 ||
		stats.DecodeErrors != 0 || stats.FramesUnregistered != 1 || stats.FramesDecoded != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if len(mqtt.GetPublished("")) != 0 {
		t.Error("failed frames produced publications")
	}
}

func TestBridgeInvalidCellCountPublishesSettings(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, nil)

	b.HandleFrame(settingsFrame(3, 0))
	b.HandleFrame(settingsFrame(3, MaxCells+1))

	if got := mqtt.GetPublished("rs485tx/bms/03/settings"); len(got) != 2 {
		t.Errorf("settings published %d times, want 2", len(got))
	}
	if got := mqtt.GetPublished("homeassistant/"); len(got) != 0 {
		t.Errorf("published %d descriptors for an unregistered device", len(got))
	}
	if b.decoder.Registry().Len() != 0 {
		t.Error("device registered from an invalid cell count")
	}
	if stats := b.Stats(); stats.FramesDecoded != 2 || stats.DecodeErrors != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestBridgePublishErrors(t *testing.T) {
	mqtt := NewMockMQTTClient()
	mqtt.SetPublishError(errors.New("broker gone"))
	b := newTestBridge(t, mqtt, nil)

	b.HandleFrame(settingsFrame(1, 1))

	stats := b.Stats()
	if stats.PublishErrors != uint64(DescriptorCount(1)+1) || stats.MessagesPublished != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if !b.decoder.Registry().IsRegistered(1) {
		t.Error("publish failure undid registration")
	}
}

func TestBridgeProcessFrameSideOutputs(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rec := &mockRecorder{}
	tel := &mockTelemetry{}
	b := newTestBridge(t, mqtt, func(o *BridgeOptions) {
		o.Recorder = rec
		o.Telemetry = tel
		o.Metrics = NewMetrics(nil)
	})

	msgs, err := b.ProcessFrame(settingsFrame(1, 3))
	if err != nil {
		t.Fatalf("ProcessFrame() error = %v", err)
	}
	if len(msgs) != DescriptorCount(3)+1 {
		t.Errorf("ProcessFrame() returned %d messages", len(msgs))
	}
	if len(mqtt.GetPublished("")) != 0 {
		t.Error("ProcessFrame() published")
	}

	if _, err := b.ProcessFrame(cellInfoFrame(1)); err != nil {
		t.Fatalf("ProcessFrame() error = %v", err)
	}

	if len(rec.frames) != 2 || rec.frames[0] != FrameTypeSettings || rec.frames[1] != FrameTypeCellInfo {
		t.Errorf("recorded frames = %v", rec.frames)
	}
	if len(tel.points) != 4 {
		t.Fatalf("telemetry points = %d, want 1 pack + 3 cells", len(tel.points))
	}
	if tel.points[0].measurement != MeasurementState || tel.points[0].tags["device_id"] != "jk_bms_01" {
		t.Errorf("first point = %+v", tel.points[0])
	}
}

func TestBridgeSnapshots(t *testing.T) {
	b := newTestBridge(t, NewMockMQTTClient(), nil)

	if _, ok := b.Snapshot(1); ok {
		t.Fatal("Snapshot() before any frame returned ok")
	}

	b.HandleFrame(sampleSettingsFrame(2).bytes())
	b.HandleFrame(settingsFrame(1, 2))
	b.HandleFrame(sampleCellInfoFrame(2).bytes())

	snaps := b.Snapshots()
	if len(snaps) != 2 || snaps[0].Device.Address != 1 || snaps[1].Device.Address != 2 {
		t.Fatalf("Snapshots() = %+v", snaps)
	}

	snap, ok := b.Snapshot(2)
	if !ok {
		t.Fatal("Snapshot(02) not found")
	}
	if snap.Settings == nil || snap.Settings.ChargeVoltage != 55.25 {
		t.Errorf("Snapshot(02).Settings = %+v", snap.Settings)
	}
	if snap.State == nil || snap.State.BatteryVoltage != 52.25 || len(snap.State.Cells) != 16 {
		t.Errorf("Snapshot(02).State = %+v", snap.State)
	}
	if snap.Device.CellCount != 16 || snap.UpdatedAt.IsZero() {
		t.Errorf("Snapshot(02) = %+v", snap)
	}

	if one, _ := b.Snapshot(1); one.State != nil {
		t.Error("Snapshot(01) has state without a cell info frame")
	}

	if devices := b.Devices(); len(devices) != 2 {
		t.Errorf("Devices() = %d, want 2", len(devices))
	}
	if d, ok := b.Device(1); !ok || d.CellCount != 2 {
		t.Errorf("Device(01) = %+v, %v", d, ok)
	}
}

func TestBridgeOnUpdate(t *testing.T) {
	b := newTestBridge(t, NewMockMQTTClient(), nil)

	var updates []BatteryUpdate
	b.SetOnUpdate(func(u BatteryUpdate) { updates = append(updates, u) })

	if _, err := b.ProcessFrame([]byte{0x55, 0xAA}); err == nil {
		t.Fatal("ProcessFrame(short) error = nil")
	}
	for _, frame := range [][]byte{settingsFrame(1, 3), settingsFrame(1, 3), cellInfoFrame(1)} {
		if _, err := b.ProcessFrame(frame); err != nil {
			t.Fatalf("ProcessFrame() error = %v", err)
		}
	}

	if len(updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(updates))
	}
	if !updates[0].Registered || updates[0].FrameType != FrameTypeSettings {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[1].Registered {
		t.Error("second settings frame reported registration")
	}
	last := updates[2]
	if last.FrameType != FrameTypeCellInfo || last.Snapshot.State == nil || last.Snapshot.Settings == nil {
		t.Errorf("cell info update = %+v", last)
	}
	if last.Snapshot.Device.DeviceID != "jk_bms_01" {
		t.Errorf("DeviceID = %q", last.Snapshot.Device.DeviceID)
	}

	b.SetOnUpdate(nil)
	if _, err := b.ProcessFrame(cellInfoFrame(1)); err != nil {
		t.Fatalf("ProcessFrame() error = %v", err)
	}
	if len(updates) != 3 {
		t.Error("hook called after being cleared")
	}
}

func TestBridgeConsumeStream(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, nil)

	var stream bytes.Buffer
	stream.Write([]byte{0x01, 0x02, 0x03})
	stream.Write(settingsFrame(5, 4))
	stream.Write([]byte{0xFF})
	stream.Write(cellInfoFrame(5))

	if err := b.ConsumeStream(context.Background(), &stream); err != nil {
		t.Fatalf("ConsumeStream() error = %v", err)
	}

	if got := mqtt.GetPublished("rs485tx/bms/05/state"); len(got) != 1 {
		t.Errorf("state published %d times, want 1", len(got))
	}
	if b.Stats().FramesDecoded != 2 {
		t.Errorf("FramesDecoded = %d, want 2", b.Stats().FramesDecoded)
	}
}

// errReader returns data once and then fails.
type errReader struct {
	data []byte
	err  error
}

func (r *errReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestBridgeConsumeStreamReadError(t *testing.T) {
	b := newTestBridge(t, NewMockMQTTClient(), nil)

	err := b.ConsumeStream(context.Background(), &errReader{err: io.ErrUnexpectedEOF})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ConsumeStream() error = %v, want ErrUnexpectedEOF", err)
	}
}

// idleReader behaves like a serial port with a read timeout and no traffic.
type idleReader struct{}

func (idleReader) Read([]byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func TestBridgeConsumeStreamCancel(t *testing.T) {
	b := newTestBridge(t, NewMockMQTTClient(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.ConsumeStream(ctx, idleReader{}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ConsumeStream() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeStream() did not return after cancel")
	}
}

func TestBridgeStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.ConsumeStream(context.Background(), idleReader{}) }()
	time.Sleep(20 * time.Millisecond)

	b.Stop()
	b.Stop() // idempotent

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ConsumeStream() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeStream() did not return after Stop")
	}

	health := mqtt.GetPublished(HealthTopic(DefaultValuesRoot))
	if last := health[len(health)-1]; !strings.Contains(string(last.Payload), `"status":"stopping"`) {
		t.Errorf("last health message = %s", last.Payload)
	}

	b.HandleFrame(settingsFrame(1, 1))
	if b.Stats().FramesReceived != 0 {
		t.Error("stopped bridge processed a frame")
	}
	if err := b.ConsumeStream(context.Background(), idleReader{}); !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("ConsumeStream() after Stop error = %v, want ErrBridgeStopped", err)
	}
}

func TestBridgeStopConcurrentWithConsumeStream(t *testing.T) {
	b := newTestBridge(t, NewMockMQTTClient(), nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.ConsumeStream(context.Background(), idleReader{})
		}()
	}
	b.Stop()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stream consumers still running after Stop")
	}

	close(errs)
	for err := range errs {
		if err != nil && !errors.Is(err, ErrBridgeStopped) {
			t.Errorf("ConsumeStream() error = %v", err)
		}
	}
}

func TestBridgeConnected(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := newTestBridge(t, mqtt, nil)

	if !b.Connected() {
		t.Error("Connected() = false with connected client")
	}
	mqtt.SetConnected(false)
	if b.Connected() {
		t.Error("Connected() = true with disconnected client")
	}
}
