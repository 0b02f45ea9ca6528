// Package logging builds the zap loggers used by the proxy.
//
// Two encodings are supported: JSON for production and a coloured console
// encoder for development. Sessions log through a child logger carrying
// session_id and profile fields; debug-mode raw line mirroring goes to the
// "shell.raw" named logger so it can be filtered or routed separately.
//
// Example:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	if err != nil {
//		return err
//	}
//	defer logger.Sync()
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
