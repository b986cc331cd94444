// pkg/logger/fields.go
package logger

import "go.uber.org/zap"

// Field constructors for keys shared by the feed, its registry and the
// sinks, so log queries can rely on one spelling.

func Topic(t string) zap.Field         { return zap.String("topic", t) }
func Trigger(t string) zap.Field       { return zap.String("trigger", t) }
func Generation(g uint64) zap.Field    { return zap.Uint64("generation", g) }
func Attempt(n uint64) zap.Field       { return zap.Uint64("attempt", n) }
func Sink(name string) zap.Field       { return zap.String("sink", name) }
func WireAction(a string) zap.Field    { return zap.String("action", a) }
func SubscriberID(id uint64) zap.Field { return zap.Uint64("handle", id) }
