package sink

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/projectdiscovery/gcache"

	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
	"firestige.xyz/igmpmon/internal/metrics"
)

// Defaults from RFC 3376 section 8: Robustness Variable 2, Query Interval
// 125s, Query Response Interval 10s.
const (
	defaultMembershipInterval = 2*125*time.Second + 10*time.Second
	defaultSummaryInterval    = time.Minute
	defaultMaxEntries         = 65536
)

// FilterMode is the source filter mode of a membership.
type FilterMode uint8

const (
	FilterExclude FilterMode = iota // any-source membership, Sources lists blocked sources
	FilterInclude                   // source-specific membership, Sources lists allowed sources
)

func (m FilterMode) String() string {
	if m == FilterInclude {
		return "INCLUDE"
	}
	return "EXCLUDE"
}

// MembershipConfig represents membership sink configuration.
type MembershipConfig struct {
	Interval        time.Duration `mapstructure:"interval"`         // group membership interval, default 260s
	SummaryInterval time.Duration `mapstructure:"summary_interval"` // 0 = summary on close only
	MaxEntries      int           `mapstructure:"max_entries"`      // LRU bound of the table
}

// Membership is one host's membership of one group.
type Membership struct {
	Group     netip.Addr
	Host      netip.Addr
	Version   core.IGMPVersion
	Mode      FilterMode
	Sources   []netip.Addr
	FirstSeen time.Time
	LastSeen  time.Time
}

// Querier is the last query seen from one querier.
type Querier struct {
	Address  netip.Addr
	Version  core.IGMPVersion
	LastSeen time.Time
}

type membershipKey struct {
	group netip.Addr
	host  netip.Addr
}

// MembershipSink maintains the group membership table a querier would hold,
// built from the reports and leaves seen on the wire. Entries expire after
// the group membership interval unless refreshed.
type MembershipSink struct {
	cfg MembershipConfig

	mu       sync.Mutex
	table    gcache.Cache[membershipKey, *Membership]
	queriers map[netip.Addr]Querier

	stop chan struct{}
	done chan struct{}
}

func init() {
	Register("membership", func(options map[string]any) (Sink, error) {
		return NewMembershipSink(options)
	})
}

// NewMembershipSink creates a membership sink and starts its summary loop.
func NewMembershipSink(options map[string]any) (*MembershipSink, error) {
	return newMembershipSink(options, gcache.NewRealClock())
}

func newMembershipSink(options map[string]any, clock gcache.Clock) (*MembershipSink, error) {
	cfg := MembershipConfig{
		Interval:        defaultMembershipInterval,
		SummaryInterval: defaultSummaryInterval,
		MaxEntries:      defaultMaxEntries,
	}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: membership interval must be positive", core.ErrConfigInvalid)
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("%w: membership max_entries must be positive", core.ErrConfigInvalid)
	}

	s := &MembershipSink{
		cfg: cfg,
		table: gcache.New[membershipKey, *Membership](cfg.MaxEntries).
			LRU().
			Expiration(cfg.Interval).
			Clock(clock).
			Build(),
		queriers: make(map[netip.Addr]Querier),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.SummaryInterval > 0 {
		go s.summaryLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *MembershipSink) Name() string { return "membership" }

// Send applies one datagram to the table. Datagrams without IGMP are ignored.
func (s *MembershipSink) Send(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}
	if pkt.IGMP == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	host := pkt.SrcIP
	ts := pkt.Timestamp
	igmp := pkt.IGMP

	switch m := igmp.Body.(type) {
	case *core.IGMPv0:
		switch igmp.MessageType {
		case core.IGMPJoinGroupRequestV0, core.IGMPCreateGroupRequestV0:
			s.join(m.GroupAddress, host, igmp.Version, ts)
		case core.IGMPLeaveGroupRequestV0:
			s.leave(m.GroupAddress, host)
		}
	case *core.IGMPv1:
		if igmp.MessageType == core.IGMPMembershipQuery {
			s.sawQuery(host, igmp.Version, ts)
		} else {
			s.join(m.GroupAddress, host, igmp.Version, ts)
		}
	case *core.IGMPv2:
		switch igmp.MessageType {
		case core.IGMPMembershipQuery:
			s.sawQuery(host, igmp.Version, ts)
		case core.IGMPLeaveGroupV2:
			s.leave(m.GroupAddress, host)
		default:
			s.join(m.GroupAddress, host, igmp.Version, ts)
		}
	case *core.IGMPv3Query:
		s.sawQuery(host, igmp.Version, ts)
	case *core.IGMPv3Report:
		for i := range m.Records {
			s.applyRecord(&m.Records[i], host, ts)
		}
	}

	metrics.MembershipEntries.Set(float64(len(s.liveLocked())))
	return nil
}

// liveLocked returns the unexpired entries. Expiry is checked through Get,
// the only lookup that honours the table's clock. s.mu must be held.
func (s *MembershipSink) liveLocked() []*Membership {
	keys := s.table.Keys(false)
	live := make([]*Membership, 0, len(keys))
	for _, k := range keys {
		if m, err := s.table.Get(k); err == nil {
			live = append(live, m)
		}
	}
	return live
}

func (s *MembershipSink) lookup(group, host netip.Addr) *Membership {
	m, err := s.table.Get(membershipKey{group: group, host: host})
	if err != nil {
		return nil
	}
	return m
}

func (s *MembershipSink) store(m *Membership) {
	s.table.Set(membershipKey{group: m.Group, host: m.Host}, m)
}

// join records an any-source membership as V0-V2 reports express it.
func (s *MembershipSink) join(group, host netip.Addr, version core.IGMPVersion, ts time.Time) {
	s.set(group, host, version, FilterExclude, nil, ts)
}

func (s *MembershipSink) set(group, host netip.Addr, version core.IGMPVersion, mode FilterMode, sources []netip.Addr, ts time.Time) {
	m := s.lookup(group, host)
	if m == nil {
		m = &Membership{Group: group, Host: host, FirstSeen: ts}
	}
	m.Version = version
	m.Mode = mode
	m.Sources = slices.Clone(sources)
	m.LastSeen = ts
	s.store(m)
}

func (s *MembershipSink) leave(group, host netip.Addr) {
	s.table.Remove(membershipKey{group: group, host: host})
}

// applyRecord follows the router-side state transitions of RFC 3376 section
// 6.4, reduced to a single reporting host.
func (s *MembershipSink) applyRecord(r *core.GroupRecord, host netip.Addr, ts time.Time) {
	group := r.MulticastAddress
	switch r.Type {
	case core.ModeIsExclude, core.ChangeToExcludeMode:
		s.set(group, host, core.IGMPVersion3, FilterExclude, r.Sources, ts)

	case core.ModeIsInclude, core.ChangeToIncludeMode:
		// INCLUDE with an empty source list is how v3 hosts leave
		if len(r.Sources) == 0 {
			s.leave(group, host)
			return
		}
		s.set(group, host, core.IGMPVersion3, FilterInclude, r.Sources, ts)

	case core.AllowNewSources:
		m := s.lookup(group, host)
		switch {
		case m == nil:
			s.set(group, host, core.IGMPVersion3, FilterInclude, r.Sources, ts)
		case m.Mode == FilterInclude:
			s.set(group, host, core.IGMPVersion3, FilterInclude, union(m.Sources, r.Sources), ts)
		default:
			s.set(group, host, core.IGMPVersion3, FilterExclude, difference(m.Sources, r.Sources), ts)
		}

	case core.BlockOldSources:
		m := s.lookup(group, host)
		switch {
		case m == nil:
		case m.Mode == FilterInclude:
			left := difference(m.Sources, r.Sources)
			if len(left) == 0 {
				s.leave(group, host)
				return
			}
			s.set(group, host, core.IGMPVersion3, FilterInclude, left, ts)
		default:
			s.set(group, host, core.IGMPVersion3, FilterExclude, union(m.Sources, r.Sources), ts)
		}
	}
}

func (s *MembershipSink) sawQuery(querier netip.Addr, version core.IGMPVersion, ts time.Time) {
	s.queriers[querier] = Querier{Address: querier, Version: version, LastSeen: ts}
}

// Memberships returns the live table ordered by group, then host.
func (s *MembershipSink) Memberships() []Membership {
	s.mu.Lock()
	all := s.liveLocked()
	out := make([]Membership, 0, len(all))
	for _, m := range all {
		out = append(out, *m)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Group.Compare(out[j].Group); c != 0 {
			return c < 0
		}
		return out[i].Host.Less(out[j].Host)
	})
	return out
}

// Queriers returns the queriers seen so far ordered by address.
func (s *MembershipSink) Queriers() []Querier {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Querier, 0, len(s.queriers))
	for _, q := range s.queriers {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

func (s *MembershipSink) summaryLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logSummary()
		case <-s.stop:
			return
		}
	}
}

func (s *MembershipSink) logSummary() {
	logger := log.GetLogger()
	memberships := s.Memberships()
	queriers := s.Queriers()

	metrics.MembershipEntries.Set(float64(len(memberships)))
	logger.WithFields(map[string]interface{}{
		"entries":  len(memberships),
		"queriers": len(queriers),
	}).Info("membership table")

	for _, q := range queriers {
		logger.Infof("\tquerier %s %s last seen %s", q.Address, q.Version, q.LastSeen.Format(time.RFC3339))
	}
	for _, m := range memberships {
		line := fmt.Sprintf("\t%s host %s %s %s", m.Group, m.Host, m.Version, m.Mode)
		if len(m.Sources) > 0 {
			line += " [" + joinAddrs(m.Sources) + "]"
		}
		logger.Info(line)
	}
}

// Close stops the summary loop and logs the final table.
func (s *MembershipSink) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	<-s.done
	s.logSummary()
	return nil
}

// union returns a followed by the members of b it lacks.
func union(a, b []netip.Addr) []netip.Addr {
	out := slices.Clone(a)
	for _, addr := range b {
		if !slices.Contains(out, addr) {
			out = append(out, addr)
		}
	}
	return out
}

// difference returns the members of a not in b.
func difference(a, b []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(a))
	for _, addr := range a {
		if !slices.Contains(b, addr) {
			out = append(out, addr)
		}
	}
	return out
}
