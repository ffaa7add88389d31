// Package sample holds two small tasks that show how delegates hand
// outputs to each other. They are a good first read.
package sample

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

const (
	InputName engine.Input = "sample.name"

	OutputMessage      engine.Output = "sample.message"
	OutputUpperMessage engine.Output = "sample.upperMessage"
)

// HelloTask greets sample.name.
type HelloTask struct {
	engine.BaseTask
}

func (h *HelloTask) DeclaredName() string                { return "hello" }
func (h *HelloTask) IsWrite() bool                       { return false }
func (h *HelloTask) WaitAfterRun() (time.Duration, bool) { return 0, false }
func (h *HelloTask) Maturity() engine.Maturity           { return engine.Stable }

func (h *HelloTask) Apply(context.Context) error {
	msg := "Hello " + h.InputString(InputName, "World")
	h.Success(OutputMessage, msg)
	h.Log().Info().Msg(msg)
	return nil
}

// ToUpperTask runs hello and shouts its message.
type ToUpperTask struct {
	engine.BaseTask
}

func (u *ToUpperTask) DeclaredName() string                { return "to-upper" }
func (u *ToUpperTask) IsWrite() bool                       { return false }
func (u *ToUpperTask) WaitAfterRun() (time.Duration, bool) { return 0, false }
func (u *ToUpperTask) Maturity() engine.Maturity           { return engine.Stable }

func (u *ToUpperTask) Apply(ctx context.Context) error {
	if _, err := u.Submit(ctx, &HelloTask{}); err != nil {
		return err
	}
	msg, ok, err := engine.OutputString(u, OutputMessage)
	if err != nil {
		return u.FailErr("read message", err)
	}
	if !ok {
		return u.Fail("hello produced no message")
	}
	upper := strings.ToUpper(msg)
	u.Success(OutputUpperMessage, upper)
	u.Log().Info().Msg(upper)
	return nil
}

// RegisterInputs binds sample.name to its configuration path.
func RegisterInputs(reg *engine.InputRegistry) {
	reg.Bind(InputName, "sample.name", func() any { return "World" })
}

// Register adds the sample tasks to reg.
func Register(reg *engine.Registry) error {
	return errors.Join(
		reg.Register("Says hello", func() engine.Task { return &HelloTask{} }),
		reg.Register("Says hello, louder", func() engine.Task { return &ToUpperTask{} }),
	)
}
