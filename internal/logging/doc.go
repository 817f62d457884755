// Package logging provides structured logging utilities for urmindr.
//
// All components log through log/slog. This package keeps attribute names
// consistent and makes sure identifiers that can be tied back to a person are
// hashed before they reach a log line.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "assistant.handle_prompt")
//	logger.Info("prompt handled",
//	    logging.SubjectHash(subjectID),
//	    logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
//   - Subject ids are hashed so log lines can be correlated without exposing them
//   - Bearer and delegated tokens are never logged, only their length
//   - Prompt text is never logged at info level or above
package logging
