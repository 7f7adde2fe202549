// C:/workspace/go/Swarm-Coverage-Go/checkpoint/checkpoint.go
//
// Package checkpoint 以 protobuf 线格式读写训练检查点。消息结构:
//
//	message Checkpoint {
//	  repeated Network agents           = 1;
//	  Network          mixer            = 2;
//	  int32            map_height       = 3;
//	  int32            map_width        = 4;
//	  int32            num_agents       = 5;
//	  double           obstacle_density = 6;
//	}
//	message Network { repeated Tensor tensors = 1; }
//	message Tensor {
//	  string          name = 1;
//	  int32           rows = 2;
//	  int32           cols = 3;
//	  repeated double data = 4 [packed = true];
//	}
//
// 未知字段会被跳过，缺失的可选字段取零值。
package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"Swarm-Coverage/config"
	"Swarm-Coverage/network"
)

var (
	// ErrMalformed 表示文件不是合法的检查点。
	ErrMalformed = errors.New("malformed checkpoint")
	// ErrIncompatible 表示检查点与当前运行的网络结构不一致。
	ErrIncompatible = errors.New("incompatible checkpoint")
)

const (
	fieldAgents          protowire.Number = 1
	fieldMixer           protowire.Number = 2
	fieldMapHeight       protowire.Number = 3
	fieldMapWidth        protowire.Number = 4
	fieldNumAgents       protowire.Number = 5
	fieldObstacleDensity protowire.Number = 6

	fieldNetworkTensors protowire.Number = 1

	fieldTensorName protowire.Number = 1
	fieldTensorRows protowire.Number = 2
	fieldTensorCols protowire.Number = 3
	fieldTensorData protowire.Number = 4
)

// Checkpoint 是检查点文件的内存表示。
type Checkpoint struct {
	Agents          [][]network.Tensor
	Mixer           []network.Tensor
	MapHeight       int
	MapWidth        int
	NumAgents       int
	ObstacleDensity float64
}

// FromParameterSet 把参数与场景描述打包成检查点，张量数据会被复制。
func FromParameterSet(p *network.ParameterSet, scenario config.Scenario) *Checkpoint {
	agents := make([][]*network.Tensor, len(p.Agents))
	for i, a := range p.Agents {
		agents[i] = a.Tensors()
	}
	var mixer []*network.Tensor
	if p.Mixer != nil {
		mixer = p.Mixer.Tensors()
	}
	return FromTensors(agents, mixer, scenario)
}

// FromTensors 打包任意一组网络的张量。Q-learning 基线用它保存全局网络
// (一组) 或每个智能体各自的网络 (N 组)。
func FromTensors(networks [][]*network.Tensor, mixer []*network.Tensor, scenario config.Scenario) *Checkpoint {
	c := &Checkpoint{
		MapHeight:       scenario.Height,
		MapWidth:        scenario.Width,
		NumAgents:       scenario.NumAgents,
		ObstacleDensity: scenario.ObstacleDensity,
	}
	for _, ts := range networks {
		c.Agents = append(c.Agents, copyTensors(ts))
	}
	if mixer != nil {
		c.Mixer = copyTensors(mixer)
	}
	return c
}

func copyTensors(ts []*network.Tensor) []network.Tensor {
	out := make([]network.Tensor, len(ts))
	for i, t := range ts {
		out[i] = network.Tensor{Name: t.Name, Rows: t.Rows, Cols: t.Cols, Data: append([]float64(nil), t.Data...)}
	}
	return out
}

// ApplyTo 把检查点参数写入 dst。智能体数量或任一张量形状不一致时返回
// ErrIncompatible，且 dst 保持不变。
func (c *Checkpoint) ApplyTo(dst *network.ParameterSet) error {
	if len(c.Agents) != len(dst.Agents) {
		return fmt.Errorf("%w: checkpoint has %d agents, run has %d", ErrIncompatible, len(c.Agents), len(dst.Agents))
	}
	var pairs [][2]*network.Tensor
	match := func(scope string, src []network.Tensor, want []*network.Tensor) error {
		if len(src) != len(want) {
			return fmt.Errorf("%w: %s has %d tensors, want %d", ErrIncompatible, scope, len(src), len(want))
		}
		for i := range want {
			if err := want[i].SameShape(&src[i]); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIncompatible, scope, err)
			}
			pairs = append(pairs, [2]*network.Tensor{want[i], &src[i]})
		}
		return nil
	}
	for i, a := range dst.Agents {
		if err := match(fmt.Sprintf("agent %d", i), c.Agents[i], a.Tensors()); err != nil {
			return err
		}
	}
	if dst.Mixer != nil {
		if err := match("mixer", c.Mixer, dst.Mixer.Tensors()); err != nil {
			return err
		}
	}
	for _, p := range pairs {
		copy(p[0].Data, p[1].Data)
	}
	return nil
}

// FileName 返回形如 qmix_map24_uavs4_obs020_1700000000.ckpt 的文件名。
func FileName(scenario config.Scenario, at time.Time) string {
	density := strings.ReplaceAll(fmt.Sprintf("%.2f", scenario.ObstacleDensity), ".", "")
	return fmt.Sprintf("qmix_map%d_uavs%d_obs%s_%d.ckpt", scenario.Height, scenario.NumAgents, density, at.Unix())
}

// Save 把检查点写入 dir 目录 (不存在时创建)，返回文件路径。
func Save(dir string, scenario config.Scenario, c *Checkpoint, at time.Time) (string, error) {
	return SaveAs(dir, FileName(scenario, at), c)
}

// SaveAs 以指定文件名写入检查点。
func SaveAs(dir, name string, c *Checkpoint) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Marshal(c), 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

// Load 读取并解析检查点文件。
func Load(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Marshal 把检查点编码为 protobuf 线格式。
func Marshal(c *Checkpoint) []byte {
	var b []byte
	for _, agent := range c.Agents {
		b = protowire.AppendTag(b, fieldAgents, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNetwork(agent))
	}
	if c.Mixer != nil {
		b = protowire.AppendTag(b, fieldMixer, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNetwork(c.Mixer))
	}
	b = appendVarintField(b, fieldMapHeight, c.MapHeight)
	b = appendVarintField(b, fieldMapWidth, c.MapWidth)
	b = appendVarintField(b, fieldNumAgents, c.NumAgents)
	if c.ObstacleDensity != 0 {
		b = protowire.AppendTag(b, fieldObstacleDensity, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(c.ObstacleDensity))
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func marshalNetwork(ts []network.Tensor) []byte {
	var b []byte
	for _, t := range ts {
		b = protowire.AppendTag(b, fieldNetworkTensors, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(t))
	}
	return b
}

func marshalTensor(t network.Tensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, t.Name)
	b = appendVarintField(b, fieldTensorRows, t.Rows)
	b = appendVarintField(b, fieldTensorCols, t.Cols)
	if len(t.Data) > 0 {
		packed := make([]byte, 0, 8*len(t.Data))
		for _, v := range t.Data {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// Unmarshal 解析 protobuf 线格式的检查点。
func Unmarshal(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch {
		case num == fieldAgents && typ == protowire.BytesType:
			ts, err := unmarshalNetwork(v)
			if err != nil {
				return err
			}
			c.Agents = append(c.Agents, ts)
		case num == fieldMixer && typ == protowire.BytesType:
			ts, err := unmarshalNetwork(v)
			if err != nil {
				return err
			}
			c.Mixer = ts
		case num == fieldMapHeight && typ == protowire.VarintType:
			c.MapHeight = int(int32(scalar))
		case num == fieldMapWidth && typ == protowire.VarintType:
			c.MapWidth = int(int32(scalar))
		case num == fieldNumAgents && typ == protowire.VarintType:
			c.NumAgents = int(int32(scalar))
		case num == fieldObstacleDensity && typ == protowire.Fixed64Type:
			c.ObstacleDensity = math.Float64frombits(scalar)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.NumAgents == 0 {
		c.NumAgents = len(c.Agents)
	}
	return c, nil
}

func unmarshalNetwork(b []byte) ([]network.Tensor, error) {
	var out []network.Tensor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != fieldNetworkTensors || typ != protowire.BytesType {
			return nil
		}
		t, err := unmarshalTensor(v)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

func unmarshalTensor(b []byte) (network.Tensor, error) {
	var t network.Tensor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch {
		case num == fieldTensorName && typ == protowire.BytesType:
			t.Name = string(v)
		case num == fieldTensorRows && typ == protowire.VarintType:
			t.Rows = int(int32(scalar))
		case num == fieldTensorCols && typ == protowire.VarintType:
			t.Cols = int(int32(scalar))
		case num == fieldTensorData && typ == protowire.BytesType:
			if len(v)%8 != 0 {
				return fmt.Errorf("%w: packed data length %d", ErrMalformed, len(v))
			}
			for len(v) > 0 {
				x, n := protowire.ConsumeFixed64(v)
				t.Data = append(t.Data, math.Float64frombits(x))
				v = v[n:]
			}
		case num == fieldTensorData && typ == protowire.Fixed64Type:
			t.Data = append(t.Data, math.Float64frombits(scalar))
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	if t.Rows*t.Cols != len(t.Data) {
		return t, fmt.Errorf("%w: tensor %q is %dx%d with %d values", ErrMalformed, t.Name, t.Rows, t.Cols, len(t.Data))
	}
	return t, nil
}

// walkFields 依次回调每个字段；BytesType 字段传入 v，数值字段传入 scalar。
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			v      []byte
			scalar uint64
		)
		switch typ {
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			scalar = uint64(x)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v, scalar); err != nil {
			return err
		}
	}
	return nil
}
