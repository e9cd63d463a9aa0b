package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - STREAMS
// =================================================================================

// Member crea un campo para el id de un miembro del cluster.
func Member(v string) zap.Field {
	return zap.String("member", v)
}

// ServerStreamID crea un campo para el id del stream físico.
func ServerStreamID(v string) zap.Field {
	return zap.String("server_stream_id", v)
}

// ClientStreamID crea un campo para el id de la suscripción lógica.
func ClientStreamID(v string) zap.Field {
	return zap.String("client_stream_id", v)
}

// StreamType crea un campo para el tipo de stream (bytes opacos, se loguea como string).
func StreamType(v []byte) zap.Field {
	return zap.ByteString("stream_type", v)
}

// Topic crea un campo para el topic de transporte.
func Topic(v string) zap.Field {
	return zap.String("topic", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Attempt crea un campo para el número de intento.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// ID crea un campo genérico para un ID.
func ID(v string) zap.Field {
	return zap.String("id", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
