// Package cluster envuelve hashicorp/raft para mantener el directorio de
// miembros del cluster y notificar altas y bajas a los listeners.
package cluster

import "github.com/dropDatabas3/streamhub/internal/transport"

// MutationType define el catálogo de operaciones replicadas.
type MutationType string

const (
	MutationMemberJoin  MutationType = "member.join"
	MutationMemberLeave MutationType = "member.leave"
)

// Mutation representa una operación a replicar por Raft (JSON en el log).
type Mutation struct {
	Type     MutationType       `json:"type"`
	Member   transport.MemberID `json:"member"`
	RaftAddr string             `json:"raftAddr,omitempty"`
	TsUnix   int64              `json:"tsUnix"`
}

// MemberInfo es una entrada del directorio replicado.
type MemberInfo struct {
	ID       transport.MemberID `json:"id"`
	RaftAddr string             `json:"raftAddr,omitempty"`
	Since    int64              `json:"since"`
}

// Event es un cambio del directorio.
type Event struct {
	Member transport.MemberID
	Joined bool
}

// MembershipListener recibe altas y bajas de miembros. Las implementaciones no
// deben bloquear: se invocan desde la goroutine del FSM.
type MembershipListener interface {
	OnServerJoined(member transport.MemberID)
	OnServerRemoved(member transport.MemberID)
}
