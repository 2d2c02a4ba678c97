package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"

	"kubeware-go/internal/config"
	"kubeware-go/internal/model"
	"kubeware-go/internal/rpc"
)

// Caller is one middleware endpoint. *rpc.Client implements it.
type Caller interface {
	Name() string
	CallRequestPhase(ctx context.Context, req *model.Request, timeout time.Duration) (*model.Verdict, error)
	CallResponsePhase(ctx context.Context, req *model.Request, resp *model.Response, timeout time.Duration) (*model.Verdict, error)
}

// Member is a chain position: the endpoint plus the per-member policy.
type Member struct {
	Caller   Caller
	Request  bool // take part in the request phase
	Response bool // take part in the response phase
	Timeout  time.Duration
	FailOpen bool // skip the member when it is unreachable
}

// Name returns the caller's name.
func (m Member) Name() string { return m.Caller.Name() }

// Chain is an immutable ordered list of members.
type Chain struct {
	members []Member
}

// NewChain returns a chain visiting members in the given order.
func NewChain(members ...Member) *Chain {
	return &Chain{members: append([]Member(nil), members...)}
}

// BuildChain dials one rpc.Client per configured middleware. Connections
// are established lazily by gRPC, so an unreachable middleware does not
// fail the build.
func BuildChain(cfgs []config.MiddlewareConfig, opts ...grpc.DialOption) (*Chain, error) {
	members := make([]Member, 0, len(cfgs))
	for _, mc := range cfgs {
		c, err := rpc.NewClient(mc.Name, mc.URL, opts...)
		if err != nil {
			_ = NewChain(members...).Close()
			return nil, fmt.Errorf("middleware %s: %w", mc.Name, err)
		}
		members = append(members, Member{
			Caller:   c,
			Request:  mc.InRequestPhase(),
			Response: mc.InResponsePhase(),
			Timeout:  mc.Timeout(),
			FailOpen: mc.FailurePolicy == config.FailOpen,
		})
	}
	return NewChain(members...), nil
}

// Len returns the number of members.
func (c *Chain) Len() int { return len(c.members) }

// Members returns a copy of the members in chain order.
func (c *Chain) Members() []Member {
	return append([]Member(nil), c.members...)
}

// Close releases every member that holds a connection.
func (c *Chain) Close() error {
	var errs []error
	for _, m := range c.members {
		if cl, ok := m.Caller.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", m.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
