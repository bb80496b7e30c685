package faxitron

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Preset 命名的曝光参数组合
type Preset struct {
	Name         string  `yaml:"name" json:"name"`
	ExposureTime float64 `yaml:"exposure_time" json:"exposure_time"`
	Voltage      int     `yaml:"voltage" json:"voltage"`
}

// Validate 在任何设备 I/O 之前校验
func (p Preset) Validate() error {
	if _, err := EncodeExposureTime(p.ExposureTime); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	if _, err := EncodeVoltage(p.Voltage); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return nil
}

// Presets 预设表
type Presets struct {
	byName map[string]Preset
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// ParsePresets 解析 YAML，逐条校验
func ParsePresets(b []byte) (*Presets, error) {
	var f presetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal presets: %w", err)
	}
	ps := &Presets{byName: make(map[string]Preset, len(f.Presets))}
	for _, p := range f.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset without name")
		}
		if _, dup := ps.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		ps.byName[p.Name] = p
	}
	return ps, nil
}

// LoadPresets 从文件读取预设
func LoadPresets(path string) (*Presets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(b)
}

func (ps *Presets) Get(name string) (Preset, bool) {
	if ps == nil {
		return Preset{}, false
	}
	p, ok := ps.byName[name]
	return p, ok
}

// List 按名称排序
func (ps *Presets) List() []Preset {
	if ps == nil {
		return nil
	}
	out := make([]Preset, 0, len(ps.byName))
	for _, p := range ps.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplyPreset 先整体校验，再依次设置曝光时间与电压
func (c *Client) ApplyPreset(ctx context.Context, p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := c.SetExposureTime(ctx, p.ExposureTime); err != nil {
		return err
	}
	return c.SetVoltage(ctx, p.Voltage)
}
