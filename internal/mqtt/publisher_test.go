package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/nugget/assist/internal/buildinfo"
	"github.com/nugget/assist/internal/config"
)

type staticStats Status

func (s staticStats) Status() Status { return Status(s) }

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "kitchen-assist",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	id, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("instance id %q is not a UUID: %v", first, err)
	}
	if id.Version() != 7 {
		t.Errorf("version = %d, want 7", id.Version())
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want stable %q", second, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	want := DeviceInfo{
		Identifiers:  []string{"instance-abc"},
		Name:         "kitchen-assist",
		Manufacturer: "Assist",
		Model:        "Voice Assistant",
		SWVersion:    buildinfo.Version,
	}
	if diff := cmp.Diff(want, NewDeviceInfo("instance-abc", "kitchen-assist")); diff != "" {
		t.Errorf("device mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testConfig(), "test-id", staticStats{}, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "assist/kitchen-assist"},
		{"availabilityTopic", p.availabilityTopic(), "assist/kitchen-assist/availability"},
		{"stateTopic", p.stateTopic("mode"), "assist/kitchen-assist/mode/state"},
		{"askTopic", p.askTopic(), "assist/kitchen-assist/ask"},
		{"replyTopic", p.replyTopic(), "assist/kitchen-assist/reply"},
		{"discoveryTopic", p.discoveryTopic("sensor", "mode"), "homeassistant/sensor/kitchen-assist/mode/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, "instance-123", staticStats{}, nil)

	wantNames := map[string]string{
		"uptime":          "Uptime",
		"version":         "Version",
		"mode":            "Mode",
		"tools_supported": "Tools Supported",
		"turns_total":     "Turns",
		"turns_today":     "Turns Today",
		"last_turn":       "Last Turn",
		"last_outcome":    "Last Outcome",
	}

	defs := p.sensorDefinitions()
	if len(defs) != len(wantNames) {
		t.Fatalf("got %d sensor definitions, want %d", len(defs), len(wantNames))
	}
	for _, d := range defs {
		want, ok := wantNames[d.entity]
		if !ok {
			t.Errorf("unexpected sensor %q", d.entity)
			continue
		}
		if d.config.Name != want {
			t.Errorf("sensor %s: Name = %q, want %q", d.entity, d.config.Name, want)
		}
		// HA prefixes the device name itself.
		if strings.Contains(d.config.Name, cfg.DeviceName) || !d.config.HasEntityName {
			t.Errorf("sensor %s: name %q must be relative to the device", d.entity, d.config.Name)
		}
		if d.config.ObjectID != d.entity {
			t.Errorf("sensor %s: ObjectID = %q", d.entity, d.config.ObjectID)
		}
		if d.config.UniqueID != "instance-123_"+d.entity {
			t.Errorf("sensor %s: UniqueID = %q", d.entity, d.config.UniqueID)
		}
		if d.config.StateTopic != p.stateTopic(d.entity) {
			t.Errorf("sensor %s: StateTopic = %q", d.entity, d.config.StateTopic)
		}
		if d.config.AvailabilityTopic != "assist/kitchen-assist/availability" {
			t.Errorf("sensor %s: AvailabilityTopic = %q", d.entity, d.config.AvailabilityTopic)
		}
	}
}

func TestSensorConfig_JSON(t *testing.T) {
	p := New(testConfig(), "instance-123", staticStats{}, nil)
	var lastTurn SensorConfig
	for _, d := range p.sensorDefinitions() {
		if d.entity == "last_turn" {
			lastTurn = d.config
		}
	}

	data, err := json.Marshal(lastTurn)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	for _, want := range []string{`"device_class":"timestamp"`, `"has_entity_name":true`, `"object_id":"last_turn"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("payload missing %s:\n%s", want, data)
		}
	}
	if strings.Contains(string(data), "unit_of_measurement") {
		t.Errorf("empty unit should be omitted:\n%s", data)
	}
}

func TestPublisher_SensorStates(t *testing.T) {
	last := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	stats := staticStats{
		Mode:           "classic",
		ToolsSupported: "unsupported",
		Turns:          12,
		LastTurn:       last,
		LastOutcome:    "done",
	}
	p := New(testConfig(), "instance-123", stats, nil)

	got := p.sensorStates()
	want := map[string]string{
		"version":         buildinfo.Version,
		"mode":            "classic",
		"tools_supported": "unsupported",
		"turns_total":     "12",
		"turns_today":     "0", // first observation is the baseline
		"last_turn":       "2026-03-14T09:30:00Z",
		"last_outcome":    "done",
	}
	if _, ok := got["uptime"]; !ok {
		t.Error("uptime state missing")
	}
	delete(got, "uptime")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisher_SensorStates_NoTurnsYet(t *testing.T) {
	p := New(testConfig(), "instance-123", staticStats{Mode: "multi_agent", ToolsSupported: "unknown"}, nil)
	got := p.sensorStates()
	if got["last_turn"] != "unknown" || got["last_outcome"] != "none" {
		t.Errorf("last_turn/last_outcome = %q/%q", got["last_turn"], got["last_outcome"])
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MQTTConfig
		want bool
	}{
		{"broker set", config.MQTTConfig{Broker: "mqtt://localhost", DeviceName: "assist"}, true},
		{"missing broker", config.MQTTConfig{DeviceName: "assist"}, false},
		{"empty", config.MQTTConfig{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}
