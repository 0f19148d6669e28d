package log

import "github.com/diffrant/diffrantd/internal/ports"

// NoopLogger drops every entry. It is the zero-value default wherever a
// logger option is left unset.
type NoopLogger struct{}

var _ ports.Logger = NoopLogger{}

func (NoopLogger) Debug(string, ...ports.Field) {}
func (NoopLogger) Info(string, ...ports.Field)  {}
func (NoopLogger) Warn(string, ...ports.Field)  {}
func (NoopLogger) Error(string, ...ports.Field) {}
