// Package stream implementa la agregación y multiplexación de streams del lado cliente.
//
// Varias suscripciones lógicas (ClientStream) con el mismo AggregationKey
// (stream type + metadata) comparten un único stream físico (ServerStream), que
// se abre contra cada miembro conocido del cluster. Los payloads que empujan los
// miembros llegan por ServerStreamID y se reparten a todos los consumers.
//
// # Concurrencia
//
// ClientStreamRegistry y ClientStreamManager no tienen locks: asumen que todas sus
// operaciones corren serializadas en un concurrency.Control. ClientStreamService
// es la fachada thread-safe que encola cada llamada en su actor.
package stream
