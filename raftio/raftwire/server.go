// Package raftwire is a reference Transport for
// github.com/bernerdschaefer/raft: JSON-over-HTTP, one handler per RPC
// kind. It is not required by the core — any Transport implementation
// works — but it is a complete, usable one.
//
// Grounded on the teacher's http subpackage (http/http_test.go, the only
// file retrieved for it): rafthttp.NewServer(receiver), Server.Install(mux),
// and the IdPath/CommandPath/AppendEntriesPath/RequestVotePath path
// constants are all kept. What changes is the RPC contract underneath: the
// teacher's handlers called a synchronous Peer method and wrote its return
// value straight back as the HTTP response body; here every handler instead
// decodes a raft.Message envelope and calls Engine.Recv, because the
// engine's reply (if any) is produced later, asynchronously, as an outbound
// Transport.Send of its own — the core never blocks an HTTP request on its
// own state machine per spec.md §1/§9. A single envelope type lets a reply
// (e.g. AppendEntriesResult) travel over the same path as the request that
// provoked it, so AppendEntriesPath/RequestVotePath/InstallSnapshotPath each
// carry traffic in both directions rather than needing separate Result
// paths.
package raftwire

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bernerdschaefer/raft"
)

// Path constants, kept from the teacher's http_test.go expectations.
const (
	IdPath              = "/raft/id"
	CommandPath         = "/raft/command"
	RequestVotePath     = "/raft/requestvote"
	AppendEntriesPath   = "/raft/appendentries"
	InstallSnapshotPath = "/raft/installsnapshot"
)

// Mux is the subset of *http.ServeMux the teacher's Server.Install needed;
// kept as an interface so tests can install against a minimal mock mux
// instead of pulling in net/http/httptest's full router.
type Mux interface {
	HandleFunc(path string, handler func(http.ResponseWriter, *http.Request))
}

// Receiver is what an inbound HTTP request ultimately dispatches to: the
// current leader's id (echoed when the command path hits a non-leader),
// its Recv entry point, and AcceptCommand for the client-facing command
// path. *raft.Engine satisfies this directly.
type Receiver interface {
	LeaderID() raft.ServerID
	Recv(msg raft.Message)
	AcceptCommand(payload []byte) (index uint64, term raft.Term, err error)
}

// Server exposes a Receiver over HTTP. Grounded on the teacher's
// rafthttp.Server / NewServer(peer).
type Server struct {
	self     raft.ServerID
	receiver Receiver
	logger   *logrus.Entry
}

// NewServer builds a Server for a local id, dispatching every inbound RPC
// to receiver.
func NewServer(self raft.ServerID, receiver Receiver, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{self: self, receiver: receiver, logger: logger}
}

// Install registers every RPC handler on mux, mirroring the teacher's
// Server.Install(mux).
func (s *Server) Install(mux Mux) {
	mux.HandleFunc(IdPath, s.handleId)
	mux.HandleFunc(CommandPath, s.handleCommand)
	mux.HandleFunc(RequestVotePath, s.handleEnvelope)
	mux.HandleFunc(AppendEntriesPath, s.handleEnvelope)
	mux.HandleFunc(InstallSnapshotPath, s.handleEnvelope)
}

func (s *Server) handleId(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(strconv.FormatUint(uint64(s.self), 10)))
}

// commandRequest/commandResponse are CommandPath's JSON wire types: the
// teacher's Command(cmd []byte, response chan []byte) collapsed onto a
// synchronous HTTP round trip, since AcceptCommand itself resolves
// synchronously (only the entry's eventual commit is async).
type commandRequest struct {
	Payload []byte `json:"payload"`
}

type commandResponse struct {
	Index  uint64        `json:"index,omitempty"`
	Term   uint64        `json:"term,omitempty"`
	Leader raft.ServerID `json:"leader,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleCommand decodes a client command payload and submits it via
// Receiver.AcceptCommand, mirroring the teacher's Command RPC (http_test.go)
// but over the async engine's synchronous acceptance step rather than a
// blocking apply. A caller that hits a non-leader is pointed at the current
// LeaderID so it can retry against the right server.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.WithError(err).Warn("raftwire: failed to decode command request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	index, term, err := s.receiver.AcceptCommand(req.Payload)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := http.StatusInternalServerError
		resp := commandResponse{Error: err.Error()}
		if errors.Is(err, raft.ErrNotLeader) {
			status = http.StatusTemporaryRedirect
			resp.Leader = s.receiver.LeaderID()
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
		return
	}
	json.NewEncoder(w).Encode(commandResponse{Index: index, Term: uint64(term)})
}

// handleEnvelope decodes a raft.Message and hands it to the engine. The
// same decode logic serves all three RPC paths; which payload field is set
// determines what the engine does with it (spec.md §6 "exactly one payload
// field is set").
func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	var msg raft.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.logger.WithError(err).Warn("raftwire: failed to decode inbound message")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg.To = s.self
	s.receiver.Recv(msg)
	w.WriteHeader(http.StatusAccepted)
}
