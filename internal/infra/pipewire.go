package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

const (
	pwDumpTool = "pw-dump"
	wpctlTool  = "wpctl"

	pwTypeNode     = "PipeWire:Interface:Node"
	pwTypeDevice   = "PipeWire:Interface:Device"
	pwTypeMetadata = "PipeWire:Interface:Metadata"

	mediaClassSink  = "Audio/Sink"
	defaultMetadata = "default"
	defaultSinkKey  = "default.audio.sink"
)

// PipeWire implements domain.AudioController with pw-dump and wpctl.
type PipeWire struct {
	runner CommandRunner
	logger *zap.Logger
}

// NewPipeWire creates the PipeWire adapter.
func NewPipeWire(runner CommandRunner, logger *zap.Logger) *PipeWire {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &PipeWire{runner: runner, logger: logger}
}

// QueryState dumps the graph and extracts sinks, devices and the default sink.
func (p *PipeWire) QueryState(ctx context.Context) (*domain.DeviceSnapshot, error) {
	out, err := p.runner.Output(ctx, pwDumpTool)
	if err != nil {
		return nil, err
	}
	snap, err := ParseDump(out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s output: %w", pwDumpTool, err)
	}
	return snap, nil
}

// SetDefault makes the node the default sink.
func (p *PipeWire) SetDefault(ctx context.Context, node domain.AudioNode) error {
	p.logger.Debug("setting default sink", zap.Int("node_id", node.ID), zap.String("node", node.Name))
	_, err := p.runner.Output(ctx, wpctlTool, "set-default", strconv.Itoa(node.ID))
	return err
}

// SetProfile switches a device profile.
func (p *PipeWire) SetProfile(ctx context.Context, deviceID int, profileIndex int) error {
	p.logger.Debug("setting device profile", zap.Int("device_id", deviceID), zap.Int("profile", profileIndex))
	_, err := p.runner.Output(ctx, wpctlTool, "set-profile", strconv.Itoa(deviceID), strconv.Itoa(profileIndex))
	return err
}

// Ensure PipeWire implements domain.AudioController.
var _ domain.AudioController = (*PipeWire)(nil)

type pwObject struct {
	ID       int            `json:"id"`
	Type     string         `json:"type"`
	Info     *pwInfo        `json:"info"`
	Props    map[string]any `json:"props"` // Set on metadata objects
	Metadata []pwMetadata   `json:"metadata"`
}

type pwInfo struct {
	Props  map[string]any `json:"props"`
	Params pwParams       `json:"params"`
}

type pwParams struct {
	EnumProfile []pwProfile `json:"EnumProfile"`
	Profile     []pwProfile `json:"Profile"`
}

type pwProfile struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   string `json:"available"`
}

type pwMetadata struct {
	Subject int             `json:"subject"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
}

// ParseDump converts pw-dump JSON into a snapshot. Nodes are ordered by id.
func ParseDump(data []byte) (*domain.DeviceSnapshot, error) {
	var objects []pwObject
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, err
	}

	snap := &domain.DeviceSnapshot{}
	for _, obj := range objects {
		switch obj.Type {
		case pwTypeNode:
			if obj.Info == nil || propString(obj.Info.Props, "media.class") != mediaClassSink {
				continue
			}
			snap.Nodes = append(snap.Nodes, domain.AudioNode{
				ID:          obj.ID,
				Name:        propString(obj.Info.Props, "node.name"),
				Description: propString(obj.Info.Props, "node.description"),
				DeviceID:    propInt(obj.Info.Props, "device.id"),
			})

		case pwTypeDevice:
			if obj.Info == nil {
				continue
			}
			snap.Devices = append(snap.Devices, parseDevice(obj))

		case pwTypeMetadata:
			if propString(obj.Props, "metadata.name") != defaultMetadata {
				continue
			}
			for _, m := range obj.Metadata {
				if m.Key == defaultSinkKey {
					snap.DefaultSink = metadataName(m.Value)
				}
			}
		}
	}

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	return snap, nil
}

func parseDevice(obj pwObject) domain.AudioDevice {
	dev := domain.AudioDevice{
		ID:            obj.ID,
		Name:          propString(obj.Info.Props, "device.name"),
		Description:   propString(obj.Info.Props, "device.description"),
		ActiveProfile: -1,
	}
	for _, p := range obj.Info.Params.EnumProfile {
		dev.Profiles = append(dev.Profiles, domain.DeviceProfile{
			Index:       p.Index,
			Name:        p.Name,
			Description: p.Description,
			Available:   p.Available != "no",
		})
	}
	if len(obj.Info.Params.Profile) > 0 {
		dev.ActiveProfile = obj.Info.Params.Profile[0].Index
	}
	return dev
}

// metadataName extracts {"name": ...}. Some versions encode the value as a
// JSON string holding that object.
func metadataName(raw json.RawMessage) string {
	var v struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &v); err == nil {
		return v.Name
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v.Name
		}
	}
	return ""
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propInt(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
