package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"Swarm-Coverage/simulation"
)

// ResetRequest 可选地指定起始位置的随机种子。
// 种子以 JSON 数字传输，超过 2^53 的值会丢失精度。
type ResetRequest struct {
	Seed *uint64 `json:"seed,omitempty"`
}

// ResetResponse 是新回合的初始观测。
type ResetResponse struct {
	Observation      []float64           `json:"observation"`
	AvailableActions [][]bool            `json:"available_actions"`
	Info             simulation.StepInfo `json:"info"`
}

// StepRequest 携带每个智能体的动作编号 (0 上, 1 下, 2 左, 3 右)。
type StepRequest struct {
	Actions []int `json:"actions"`
}

// StepResponse 对应一次 simulation.StepResult。
type StepResponse struct {
	Observation      []float64           `json:"observation"`
	Rewards          []float64           `json:"rewards"`
	Terminated       bool                `json:"terminated"`
	Truncated        bool                `json:"truncated"`
	AvailableActions [][]bool            `json:"available_actions"`
	Info             simulation.StepInfo `json:"info"`
}

// Done 表示回合是否结束。
func (r StepResponse) Done() bool { return r.Terminated || r.Truncated }

// ToStruct 经由 JSON 把带 json 标签的消息转换为 Struct。
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct 把 Struct 解码到 v 指向的消息。
func FromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
