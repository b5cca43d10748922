// Package log provides a logging abstraction for opstream components.
//
// This package defines a Logger interface that can be implemented by
// any logging library. Default implementations are provided for zerolog
// and a no-op logger for testing.
//
// # Usage
//
// Use the provided zerolog adapter:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or use the no-op logger for testing:
//
//	logger := log.NewNoopLogger()
//
// # Event names
//
// Components attach an "event" field to lines that correspond to a
// well-known diagnostic (for example DuplicateMessages_OutOfOrderMessage or
// GetDeltas_Error) so log pipelines can aggregate on it:
//
//	logger.Warn("duplicate ops dropped", log.Event("DuplicateMessages_OutOfOrderMessage"))
package log
