package queue

import (
	"context"
	"fmt"
)

// Job handles one message type. Type must be unique within a queue; Name is
// only used in logs.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// JobFunc is a Job named after the message type it handles.
type JobFunc struct {
	MsgType string
	Fn      func(ctx context.Context, payload interface{}) error
}

func (j JobFunc) Name() string { return j.MsgType }

func (j JobFunc) Type() string { return j.MsgType }

func (j JobFunc) Handle(ctx context.Context, payload interface{}) error { return j.Fn(ctx, payload) }

// Typed builds a Job whose handler receives the payload already decoded into T.
func Typed[T any](msgType string, fn func(ctx context.Context, v *T) error) Job {
	return JobFunc{
		MsgType: msgType,
		Fn: func(ctx context.Context, payload interface{}) error {
			v, err := ParsePayload[T](payload)
			if err != nil {
				return fmt.Errorf("%s payload: %w", msgType, err)
			}
			return fn(ctx, v)
		},
	}
}
