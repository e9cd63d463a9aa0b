// Package logger provides a singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: Una sola instancia global inicializada con Init().
//   - Context Scoping: cada operación puede llevar un logger "scoped" con campos
//     adicionales (member, server_stream_id, etc.) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Levels: debug, info, warn, error (configurable via LOG_LEVEL).
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{
//	    Env:   cfg.Log.Env,   // "dev" o "prod"
//	    Level: cfg.Log.Level, // "debug", "info", "warn", "error"
//	    Node:  cfg.Node.ID,
//	})
//	defer logger.Sync()
//
// En componentes:
//
//	log := logger.Named("stream.manager")
//	log.Info("server stream created", logger.ServerStreamID(id.String()))
package logger
