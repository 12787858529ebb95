/*
Package log provides structured logging for meshbroker using zerolog.

Init configures the package-level Logger once, at process startup, from a
Config{Level, JSONOutput, Output}. WithComponent/WithWorkspace/WithAgent/
WithBackend return child loggers carrying the corresponding field so that
every coordination event is attributable without parsing message text.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	logger := log.WithBackend("fast").With().Str("workspace_id", ws).Logger()
	logger.Info().Str("file_path", path).Msg("lock acquired")
*/
package log
