package dstrain

import "github.com/sirupsen/logrus"

// LogStatus creates a StatusFunc for SGD which logs the
// metric snapshot of every step at info level.
//
// If log is nil, the logrus standard logger is used.
func LogStatus(log *logrus.Logger) func(snap Snapshot) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var steps int
	return func(snap Snapshot) {
		steps++
		fields := logrus.Fields{"step": steps}
		for name, val := range snap {
			fields[name] = val
		}
		log.WithFields(fields).Info("training step")
	}
}
