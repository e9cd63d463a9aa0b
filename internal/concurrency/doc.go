// Package concurrency provee el contexto de ejecución serializado (actor) y
// futures explícitos que usan los componentes de streaming.
//
// # Design Decisions
//
//   - Un Actor por instancia: todas las tareas de un componente corren en una
//     sola goroutine, en orden de llegada. No hay locks sobre el estado del dueño.
//   - Las operaciones de red devuelven un *Future; el resultado se re-encola en el
//     actor con RunOnCompletion, nunca se bloquea la goroutine del actor.
//   - Inline ejecuta todo en la goroutine del llamador. Solo para tests.
package concurrency
