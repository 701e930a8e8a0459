// Package logger builds the zap logger shared by every component.
//
// Usage:
//
//	log, err := logger.New("development", "debug")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("execution finished", zap.String("status", "Success"))
package logger
