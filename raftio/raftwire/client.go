package raftwire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bernerdschaefer/raft"
)

// SendDoner is the half of *raft.Engine the client needs: the async
// completion callback a real Transport must report to exactly once per
// Send (spec.md §6).
type SendDoner interface {
	SendDone(to raft.ServerID, token raft.SendToken, err error)
}

// defaultTimeout bounds one HTTP round trip; a send that hangs past this
// reports failure to SendDone rather than blocking the sender goroutine
// indefinitely.
const defaultTimeout = 2 * time.Second

// Client implements raft.Transport over HTTP. Grounded on the teacher's
// Peer interface and its RequestVotes/AppendEntries call sites in
// server.go (leaderSelect, candidateSelect), generalized from synchronous
// method calls returning a typed response to a fire-and-forget Send that
// reports completion through SendDone — the response, if the RPC produces
// one, arrives later as its own inbound Recv on the addressee's Server.
//
// google/uuid correlation ids are attached as an HTTP header
// (X-Raft-Correlation-Id), not interpreted by the core (the core
// correlates replies itself via PeerProgress's pending queue, spec.md §5).
// Neither Client nor Server reads or logs the header.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Entry

	mu        sync.RWMutex
	addresses map[raft.ServerID]string

	doner SendDoner
}

// NewClient builds a Client that reports Send completions to doner.
// Addresses are empty until registered with SetAddress; a Send to an
// unregistered id fails immediately.
func NewClient(doner SendDoner, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		addresses:  make(map[raft.ServerID]string),
		doner:      doner,
	}
}

// SetAddress registers (or updates) the base URL at which id's Server is
// reachable, e.g. "http://10.0.0.2:8080". Called as membership changes
// bring new peers into the Configuration (spec.md §4.6), since the core
// itself never resolves addresses — that bookkeeping belongs to whoever
// wires the Transport, per spec.md §1.
func (c *Client) SetAddress(id raft.ServerID, baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses[id] = baseURL
}

func (c *Client) addressOf(id raft.ServerID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.addresses[id]
	return addr, ok
}

// Send implements raft.Transport. It runs the actual HTTP POST on its own
// goroutine — the engine's Tick/Recv/AppendDone/SendDone must never block
// on network I/O (spec.md §1 Non-goals) — and reports completion via
// SendDone exactly once, matching the teacher's RequestVotes launching one
// goroutine per peer in candidateSelect.
func (c *Client) Send(to raft.ServerID, msg raft.Message, token raft.SendToken) {
	go c.send(to, msg, token)
}

func (c *Client) send(to raft.ServerID, msg raft.Message, token raft.SendToken) {
	base, ok := c.addressOf(to)
	if !ok {
		c.doner.SendDone(to, token, fmt.Errorf("raftwire: no address registered for server %d", to))
		return
	}

	path := pathFor(msg)
	if path == "" {
		c.doner.SendDone(to, token, fmt.Errorf("raftwire: message has no recognized payload"))
		return
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(msg); err != nil {
		c.doner.SendDone(to, token, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, base+path, &body)
	if err != nil {
		c.doner.SendDone(to, token, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Raft-Correlation-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("peer", uint64(to)).Warn("raftwire: send failed")
		c.doner.SendDone(to, token, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		c.doner.SendDone(to, token, fmt.Errorf("raftwire: peer %d returned HTTP %d", to, resp.StatusCode))
		return
	}
	c.doner.SendDone(to, token, nil)
}

func pathFor(msg raft.Message) string {
	switch {
	case msg.RequestVote != nil, msg.RequestVoteResult != nil:
		return RequestVotePath
	case msg.AppendEntries != nil, msg.AppendEntriesResult != nil:
		return AppendEntriesPath
	case msg.InstallSnapshot != nil:
		return InstallSnapshotPath
	default:
		return ""
	}
}
