package raft

import (
	"encoding/binary"
	"io"
)

// Member is one entry in a Configuration: a server identity, the address
// its Transport uses to reach it, and whether it counts toward quorum.
type Member struct {
	ID      ServerID
	Address string
	Voting  bool
}

// Configuration is the ordered, versioned membership list described in
// spec.md §3/§4.1. It is generalized from the teacher's Peers map (which
// conflated "who to call" with "who counts for quorum" — server.go's
// Peers.Quorum()/Except()/Count()) into a pure data structure that also
// tracks non-voting members, since §4.6 membership changes require that
// distinction.
type Configuration struct {
	members []Member
	index   map[ServerID]int
}

// NewConfiguration builds a Configuration from an initial member set. At
// least one voting member is required at bootstrap (spec.md §3 invariant).
func NewConfiguration(members ...Member) (*Configuration, error) {
	c := &Configuration{index: make(map[ServerID]int, len(members))}
	for _, m := range members {
		if err := c.Add(m.ID, m.Address, m.Voting); err != nil {
			return nil, err
		}
	}
	if c.NVoting() == 0 {
		return nil, ErrInvalidConfig
	}
	return c, nil
}

// Add inserts a new member. Fails with ErrDuplicateID if id is already
// configured.
func (c *Configuration) Add(id ServerID, address string, voting bool) error {
	if c.index == nil {
		c.index = make(map[ServerID]int)
	}
	if _, ok := c.index[id]; ok {
		return ErrDuplicateID
	}
	c.index[id] = len(c.members)
	c.members = append(c.members, Member{ID: id, Address: address, Voting: voting})
	return nil
}

// Remove drops a member. Fails with ErrUnknownID if absent, or
// ErrInvalidConfig if removing it would leave no voting members.
func (c *Configuration) Remove(id ServerID) error {
	i, ok := c.index[id]
	if !ok {
		return ErrUnknownID
	}
	if c.members[i].Voting && c.NVoting() == 1 {
		return ErrInvalidConfig
	}
	c.members = append(c.members[:i], c.members[i+1:]...)
	delete(c.index, id)
	for id2, idx := range c.index {
		if idx > i {
			c.index[id2] = idx - 1
		}
	}
	return nil
}

// Promote marks an existing non-voting member as voting. Fails with
// ErrUnknownID if absent.
func (c *Configuration) Promote(id ServerID) error {
	i, ok := c.index[id]
	if !ok {
		return ErrUnknownID
	}
	c.members[i].Voting = true
	return nil
}

// IndexOf returns the position of id within the ordered member list.
func (c *Configuration) IndexOf(id ServerID) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

// Get returns the Member for id.
func (c *Configuration) Get(id ServerID) (Member, bool) {
	i, ok := c.index[id]
	if !ok {
		return Member{}, false
	}
	return c.members[i], true
}

// NVoting returns the number of voting members.
func (c *Configuration) NVoting() int {
	n := 0
	for _, m := range c.members {
		if m.Voting {
			n++
		}
	}
	return n
}

// Quorum returns the strict-majority size of the voting set: floor(n/2)+1.
func (c *Configuration) Quorum() int {
	return c.NVoting()/2 + 1
}

// Voters returns every voting member, in configuration order.
func (c *Configuration) Voters() []Member {
	out := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		if m.Voting {
			out = append(out, m)
		}
	}
	return out
}

// Except returns every voting member other than id, the set Election and
// Replication both send RPCs to. Grounded on the teacher's
// Peers.Except(s.Id).
func (c *Configuration) Except(id ServerID) []Member {
	out := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		if m.Voting && m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// Members returns every configured member, voting or not, in order.
func (c *Configuration) Members() []Member {
	out := make([]Member, len(c.members))
	copy(out, c.members)
	return out
}

// Clone returns a deep copy, used when rolling a configuration-entry apply
// back on truncation (spec.md §4.6).
func (c *Configuration) Clone() *Configuration {
	cp := &Configuration{
		members: make([]Member, len(c.members)),
		index:   make(map[ServerID]int, len(c.index)),
	}
	copy(cp.members, c.members)
	for k, v := range c.index {
		cp.index[k] = v
	}
	return cp
}

// configVersion is the wire/persistence format version byte (§6).
const configVersion = 1

// Encode serializes the configuration per spec.md §6: a version byte, an
// unsigned count, then per-member {id u64 LE, address length-prefixed
// UTF-8, voting u8}, all integers little-endian.
func (c *Configuration) Encode() []byte {
	buf := make([]byte, 0, 16+16*len(c.members))
	buf = append(buf, configVersion)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(c.members)))
	buf = append(buf, countBuf[:]...)

	for _, m := range c.members {
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], uint64(m.ID))
		buf = append(buf, idBuf[:]...)

		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(m.Address)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, m.Address...)

		if m.Voting {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// DecodeConfiguration is the inverse of Encode; Encode∘Decode is required
// to be the identity (spec.md §8 round-trip law).
func DecodeConfiguration(b []byte) (*Configuration, error) {
	if len(b) < 5 {
		return nil, io.ErrUnexpectedEOF
	}
	version := b[0]
	if version != configVersion {
		return nil, internalf("configuration: unsupported encoding version %d", version)
	}
	count := binary.LittleEndian.Uint32(b[1:5])
	off := 5

	c := &Configuration{index: make(map[ServerID]int, count)}
	for i := uint32(0); i < count; i++ {
		if off+8+4 > len(b) {
			return nil, io.ErrUnexpectedEOF
		}
		id := ServerID(binary.LittleEndian.Uint64(b[off : off+8]))
		off += 8
		alen := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if off+alen+1 > len(b) {
			return nil, io.ErrUnexpectedEOF
		}
		addr := string(b[off : off+alen])
		off += alen
		voting := b[off] != 0
		off++

		if _, ok := c.index[id]; ok {
			return nil, ErrDuplicateID
		}
		c.index[id] = len(c.members)
		c.members = append(c.members, Member{ID: id, Address: addr, Voting: voting})
	}
	return c, nil
}
