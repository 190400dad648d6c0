package worker

import (
	"context"
	"errors"
)

var (
	ErrDispatcherBusy   = errors.New("too many requests in flight, try again later")
	ErrDispatcherClosed = errors.New("dispatcher is shutting down")
)

type JobType int

const (
	Run JobType = iota
	Stop
)

// Task is the work a job performs.
type Task func(ctx context.Context) error

type Job struct {
	Type   JobType
	Key    string
	Name   string
	ctx    context.Context
	task   Task
	result chan error
}
