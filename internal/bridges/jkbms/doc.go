// Package jkbms implements the JK-BMS RS485 bridge.
//
// JK inverter BMS units broadcast "JK02" frames on their RS485 bus. An upstream
// sniffer (or a local serial port) hands those frames to this package, which
// decodes them and republishes the result for Home Assistant via MQTT discovery.
//
// # Architecture
//
//	┌──────────────┐  raw frames   ┌──────────────┐   MQTT   ┌────────────────┐
//	│ RS485 / MQTT │──────────────►│ JK-BMS Bridge│─────────►│ Home Assistant │
//	│   sniffer    │               │  (this pkg)  │          │                │
//	└──────────────┘               └──────────────┘          └────────────────┘
//
// Every frame passes through the same pipeline:
//
//	Normalize → Classify → DecodeSettings | DecodeCellInfo → Messages
//
// # Frames
//
// The canonical frame is 308 bytes and starts with the magic 55 AA EB 90.
// Some sniffers prepend an 11-byte envelope (319 bytes total); Normalize strips it.
// Byte 4 carries the frame type:
//
//   - 0x01 Settings: device configuration; the device address sits at byte 270.
//   - 0x02 CellInfo: live telemetry; the device address sits at byte 300.
//
// The checksum byte (299) is not verified.
//
// # Registration
//
// The first Settings frame seen for an address registers the device with its
// cell count and produces the Home Assistant discovery descriptors for it.
// CellInfo frames for addresses that have not been registered yet are skipped,
// because the per-cell layout depends on the cell count. The registry lives in
// memory only; after a restart descriptors are emitted again on first contact.
//
// # Topics
//
//	{registration}/sensor/jk_bms_{NN}/{field}/config         descriptor
//	{registration}/binary_sensor/jk_bms_{NN}/{field}/config  descriptor
//	{values}/{NN}/settings                                  SettingsSnapshot
//	{values}/{NN}/state                                     TelemetrySnapshot
//
// NN is the device address as two decimal digits.
//
// # Thread Safety
//
// Decoder and Registry are safe for concurrent use. Frames for the same address
// are serialised by a per-address lock, so a CellInfo decode never observes a
// half-written registration.
package jkbms
