package observability

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic swallows a panic in the deferring goroutine and logs it with
// its stack. It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "http server")
//
// Named results of the deferring function keep the values they held when the
// panic started.
func RecoverPanic(logger logrus.FieldLogger, where string) {
	r := recover()
	if r == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"panic": r,
		"where": where,
		"stack": string(debug.Stack()),
	}).Error("PANIC recovered")
}
