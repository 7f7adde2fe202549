package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"Swarm-Coverage/simulation"
)

// Client 是 coverage.CoverageEnvironment 的类型化客户端。
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 包装一个已经建立的连接。
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	return FromStruct(out, resp)
}

// Reset 开始新回合。seed 为 nil 时服务端继续使用自己的随机数流。
func (c *Client) Reset(ctx context.Context, seed *uint64, opts ...grpc.CallOption) (ResetResponse, error) {
	var resp ResetResponse
	err := c.invoke(ctx, ResetMethod, ResetRequest{Seed: seed}, &resp, opts...)
	return resp, err
}

// Step 提交所有智能体的动作。
func (c *Client) Step(ctx context.Context, actions []simulation.Action, opts ...grpc.CallOption) (StepResponse, error) {
	req := StepRequest{Actions: make([]int, len(actions))}
	for i, a := range actions {
		req.Actions[i] = int(a)
	}
	var resp StepResponse
	err := c.invoke(ctx, StepMethod, req, &resp, opts...)
	return resp, err
}
