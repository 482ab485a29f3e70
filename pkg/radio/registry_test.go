package radio

import (
	"fmt"
	"io/ioutil"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/radiod/pkg/model"
)

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.Out = ioutil.Discard
}

type fakePeer struct {
	mtx     sync.Mutex
	msgs    []model.Message
	fail    bool
	evicted bool
}

func (p *fakePeer) Deliver(msg model.Message) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.fail {
		return ErrPeerClosed
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePeer) Evict() {
	p.mtx.Lock()
	p.evicted = true
	p.mtx.Unlock()
}

func (p *fakePeer) messages() []model.Message {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]model.Message(nil), p.msgs...)
}

func (p *fakePeer) reset() {
	p.mtx.Lock()
	p.msgs = nil
	p.mtx.Unlock()
}

// lastStatus gets the most recent channel_status the peer received.
func (p *fakePeer) lastStatus(t *testing.T) model.ChannelStatus {
	t.Helper()
	msgs := p.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if status, ok := msgs[i].(model.ChannelStatus); ok {
			return status
		}
	}
	t.Fatalf("no channel_status received")
	return model.ChannelStatus{}
}

func (p *fakePeer) audio() []model.AudioBroadcast {
	var clips []model.AudioBroadcast
	for _, msg := range p.messages() {
		if clip, ok := msg.(model.AudioBroadcast); ok {
			clips = append(clips, clip)
		}
	}
	return clips
}

func newMember(id string) (*Member, *fakePeer) {
	peer := &fakePeer{}
	return &Member{
		UserID:   id,
		Username: "user-" + id,
		FullName: "User " + id,
		Session:  "session-" + id,
		Peer:     peer,
	}, peer
}

func holderOf(status model.ChannelStatus) string {
	if status.TransmittingUser == nil {
		return ""
	}
	return *status.TransmittingUser
}

func TestPushToTalkScenario(t *testing.T) {
	reg := New(log, Config{Channels: 15})
	a, peerA := newMember("a")
	b, peerB := newMember("b")
	c, peerC := newMember("c")

	// A joins channel 6.
	res, err := reg.Join(6, a)
	if err != nil {
		t.Fatalf("Join: %s", err)
	}
	status := peerA.lastStatus(t)
	if status.UserCount != 1 || status.TransmittingUser != nil || status.Channel != 6 {
		t.Fatalf("after A joined; got %+v", status)
	}
	ch := res.Channel

	// A starts transmitting.
	if !ch.TryStartTransmission("a") {
		t.Fatalf("A could not start transmitting on an idle channel")
	}
	if got := holderOf(peerA.lastStatus(t)); got != "a" {
		t.Fatalf("wanted holder a, got %q", got)
	}

	// B joins and is refused the busy channel.
	if _, err := reg.Join(6, b); err != nil {
		t.Fatalf("Join: %s", err)
	}
	if ch.TryStartTransmission("b") {
		t.Fatalf("B started transmitting on a busy channel")
	}
	if got := holderOf(ch.Status()); got != "a" {
		t.Fatalf("wanted holder to remain a, got %q", got)
	}

	// A stops; B may now transmit.
	if !ch.StopTransmission("a") {
		t.Fatalf("A could not stop its own transmission")
	}
	if !ch.TryStartTransmission("b") {
		t.Fatalf("B could not start transmitting after A stopped")
	}
	if got := holderOf(peerA.lastStatus(t)); got != "b" {
		t.Fatalf("wanted holder b, got %q", got)
	}

	// B disconnects while holding the slot.
	if _, err := reg.Join(6, c); err != nil {
		t.Fatalf("Join: %s", err)
	}
	reg.LeaveSession("b", b.Session)
	status = peerC.lastStatus(t)
	if status.TransmittingUser != nil || status.UserCount != 2 {
		t.Fatalf("after B left; got %+v", status)
	}
	if !ch.TryStartTransmission("c") {
		t.Fatalf("C could not start transmitting after B disconnected")
	}
	ch.StopTransmission("c")

	// A sends audio; only the others hear it.
	peerA.reset()
	peerC.reset()
	clip := Clip{SenderID: "a", Data: "AAEC", MimeType: "audio/mpeg", ReceivedAt: time.Now()}
	if n := ch.BroadcastAudio(clip); n != 1 {
		t.Errorf("wanted clip queued for 1 member, got %d", n)
	}
	if got := peerA.audio(); len(got) != 0 {
		t.Errorf("sender received its own clip: %+v", got)
	}
	got := peerC.audio()
	if len(got) != 1 {
		t.Fatalf("wanted 1 clip for C, got %d", len(got))
	}
	if got[0].SenderID != "a" || got[0].SenderName != "User a" || got[0].Channel != 6 || got[0].AudioData != "AAEC" {
		t.Errorf("unexpected clip: %+v", got[0])
	}
	if len(peerB.audio()) != 0 {
		t.Errorf("B received a clip after leaving")
	}
}

func TestSwitchChannels(t *testing.T) {
	reg := New(log, Config{Channels: 3})
	a, _ := newMember("a")
	b, peerB := newMember("b")

	if _, err := reg.Join(1, b); err != nil {
		t.Fatalf("Join: %s", err)
	}
	res, err := reg.Join(1, a)
	if err != nil {
		t.Fatalf("Join: %s", err)
	}
	if !res.Channel.TryStartTransmission("a") {
		t.Fatalf("Cannot start transmitting")
	}

	res, err = reg.Join(2, a)
	if err != nil {
		t.Fatalf("Cannot switch channels: %s", err)
	}
	if res.Previous == nil || res.Previous.ID() != 1 {
		t.Errorf("wanted previous channel 1, got %v", res.Previous)
	}
	if res.Replaced {
		t.Errorf("switching channels from the same session should not count as a replacement")
	}

	status := peerB.lastStatus(t)
	wanted := model.ChannelStatus{
		DefaultMessage: model.DefaultMessage{Type: "channel_status"},
		Channel:        1,
		ChannelName:    "Canal 1",
		Users:          []model.UserStatus{{UserID: "b", Username: "user-b", FullName: "User b"}},
		UserCount:      1,
	}
	if !reflect.DeepEqual(wanted, status) {
		t.Errorf("status of the old channel; wanted %+v, got %+v", wanted, status)
	}

	status, _ = reg.Snapshot(2)
	if status.UserCount != 1 || status.Users[0].UserID != "a" {
		t.Errorf("status of the new channel; got %+v", status)
	}
	if ch, ok := reg.ChannelOf("a"); !ok || ch.ID() != 2 {
		t.Errorf("wanted a indexed in channel 2")
	}
}

func TestLeaveWithoutChannel(t *testing.T) {
	reg := New(log, Config{})
	reg.Leave("nobody")
	reg.LeaveSession("nobody", "s")

	a, _ := newMember("a")
	reg.Join(4, a)
	reg.Leave("a")
	reg.Leave("a")
	if status, _ := reg.Snapshot(4); status.UserCount != 0 {
		t.Errorf("wanted an empty channel, got %+v", status)
	}
}

func TestInvalidChannel(t *testing.T) {
	reg := New(log, Config{Channels: 15})
	a, _ := newMember("a")
	for _, id := range []int{0, -1, 16} {
		if _, err := reg.Join(id, a); errors.Cause(err) != ErrInvalidChannel {
			t.Errorf("Join(%d); wanted ErrInvalidChannel, got %v", id, err)
		}
		if _, err := reg.Snapshot(id); errors.Cause(err) != ErrInvalidChannel {
			t.Errorf("Snapshot(%d); wanted ErrInvalidChannel, got %v", id, err)
		}
	}
	if _, ok := reg.ChannelOf("a"); ok {
		t.Errorf("a failed join left it indexed")
	}
}

func TestDefaultsAndNames(t *testing.T) {
	reg := New(log, Config{Names: map[int]string{2: "Emergencias"}})
	if reg.NumChannels() != DefaultChannels {
		t.Errorf("wanted %d channels, got %d", DefaultChannels, reg.NumChannels())
	}
	summaries := reg.Summaries()
	if summaries[0].ChannelName != "Canal 1" || summaries[1].ChannelName != "Emergencias" {
		t.Errorf("unexpected names: %q, %q", summaries[0].ChannelName, summaries[1].ChannelName)
	}
}

func TestStopByOtherMemberIgnored(t *testing.T) {
	reg := New(log, Config{})
	a, _ := newMember("a")
	b, _ := newMember("b")
	res, _ := reg.Join(1, a)
	reg.Join(1, b)

	res.Channel.TryStartTransmission("a")
	if res.Channel.StopTransmission("b") {
		t.Errorf("b stopped a's transmission")
	}
	if got := holderOf(res.Channel.Status()); got != "a" {
		t.Errorf("wanted holder a, got %q", got)
	}
	if !res.Channel.TryStartTransmission("a") {
		t.Errorf("a repeated start should succeed while holding the slot")
	}
	if res.Channel.TryStartTransmission("outsider") {
		t.Errorf("a non-member started transmitting")
	}
}

func TestConcurrentStartHasSingleHolder(t *testing.T) {
	reg := New(log, Config{})
	ch, _ := reg.Channel(9)
	const n = 64
	for i := 0; i < n; i++ {
		m, _ := newMember(fmt.Sprint(i))
		reg.Join(9, m)
	}

	for round := 0; round < 20; round++ {
		start := make(chan struct{})
		var wg sync.WaitGroup
		var mtx sync.Mutex
		winners := []string{}
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				<-start
				if ch.TryStartTransmission(id) {
					mtx.Lock()
					winners = append(winners, id)
					mtx.Unlock()
				}
			}(fmt.Sprint(i))
		}
		close(start)
		wg.Wait()

		if len(winners) != 1 {
			t.Fatalf("round %d: wanted exactly one holder, got %v", round, winners)
		}
		status := ch.Status()
		transmitting := 0
		for _, u := range status.Users {
			if u.IsTransmitting {
				transmitting++
			}
		}
		if transmitting != 1 || holderOf(status) != winners[0] {
			t.Fatalf("round %d: status disagrees with winner %s: %+v", round, winners[0], status)
		}
		ch.StopTransmission(winners[0])
	}
}

func TestConcurrentJoinsKeepOneChannelPerUser(t *testing.T) {
	reg := New(log, Config{Channels: 5})
	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(user, hop int) {
				defer wg.Done()
				m, _ := newMember(fmt.Sprint(user))
				reg.Join(hop%5+1, m)
				if hop%3 == 0 {
					ch, _ := reg.Channel(hop%5 + 1)
					ch.TryStartTransmission(m.UserID)
				}
			}(i, j)
		}
	}
	wg.Wait()

	seen := map[string]int{}
	for id := 1; id <= 5; id++ {
		status, _ := reg.Snapshot(id)
		holders := 0
		for _, u := range status.Users {
			seen[u.UserID]++
			if u.IsTransmitting {
				holders++
			}
		}
		if holders > 1 {
			t.Errorf("channel %d has %d holders", id, holders)
		}
		if h := holderOf(status); h != "" {
			found := false
			for _, u := range status.Users {
				found = found || u.UserID == h
			}
			if !found {
				t.Errorf("channel %d holder %s is not a member", id, h)
			}
		}
	}
	if len(seen) != users {
		t.Errorf("wanted %d users placed, got %d", users, len(seen))
	}
	for user, count := range seen {
		if count != 1 {
			t.Errorf("user %s is in %d channels", user, count)
		}
	}
	if stats := reg.Stats(); stats.NumMembers != users {
		t.Errorf("wanted %d indexed members, got %d", users, stats.NumMembers)
	}
}

func TestBroadcastSurvivesFailedPeer(t *testing.T) {
	reg := New(log, Config{})
	a, _ := newMember("a")
	b, peerB := newMember("b")
	c, peerC := newMember("c")
	d, peerD := newMember("d")
	res, _ := reg.Join(2, a)
	reg.Join(2, b)
	reg.Join(2, c)
	reg.Join(2, d)
	peerC.fail = true

	n := res.Channel.BroadcastAudio(Clip{SenderID: "a", Data: "x", MimeType: "audio/mpeg"})
	if n != 2 {
		t.Errorf("wanted 2 deliveries, got %d", n)
	}
	if len(peerB.audio()) != 1 || len(peerD.audio()) != 1 {
		t.Errorf("a failed peer stopped delivery to the others")
	}
	if stats := reg.Stats(); stats.DeliveriesDropped != 1 || stats.ClipsRelayed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if n := res.Channel.BroadcastAudio(Clip{SenderID: "stranger", Data: "x"}); n != 0 {
		t.Errorf("clip from a non-member was relayed to %d members", n)
	}
}

func TestTransmissionTimeout(t *testing.T) {
	reg := New(log, Config{TransmissionTimeout: 50 * time.Millisecond})
	a, peerA := newMember("a")
	b, _ := newMember("b")
	res, _ := reg.Join(3, a)
	reg.Join(3, b)

	if !res.Channel.TryStartTransmission("a") {
		t.Fatalf("Cannot start transmitting")
	}

	deadline := time.Now().Add(2 * time.Second)
	for holderOf(res.Channel.Status()) != "" {
		if time.Now().After(deadline) {
			t.Fatalf("transmission was never released")
		}
		time.Sleep(10 * time.Millisecond)
	}

	found := false
	for _, msg := range peerA.messages() {
		if ts, ok := msg.(model.TransmissionStatus); ok && !ts.Success && ts.Text == model.TransmissionTimedOut {
			found = true
		}
	}
	if !found {
		t.Errorf("holder was not told its transmission timed out")
	}
	if !res.Channel.TryStartTransmission("b") {
		t.Errorf("b could not transmit after the timeout")
	}
	if stats := reg.Stats(); stats.TransmissionTimeouts != 1 {
		t.Errorf("wanted 1 timeout, got %d", stats.TransmissionTimeouts)
	}
}

func TestStoppedTransmissionDoesNotTimeOut(t *testing.T) {
	reg := New(log, Config{TransmissionTimeout: 200 * time.Millisecond})
	a, _ := newMember("a")
	res, _ := reg.Join(3, a)

	res.Channel.TryStartTransmission("a")
	res.Channel.StopTransmission("a")
	res.Channel.TryStartTransmission("a")
	time.Sleep(120 * time.Millisecond)
	res.Channel.StopTransmission("a")
	res.Channel.TryStartTransmission("a")
	time.Sleep(120 * time.Millisecond)

	// The first two timers were stopped; only the third may still fire.
	if got := holderOf(res.Channel.Status()); got != "a" {
		t.Errorf("a stale timer released the current transmission")
	}
}

func TestReplacedSession(t *testing.T) {
	reg := New(log, Config{})
	first, firstPeer := newMember("a")
	second, _ := newMember("a")
	second.Session = "session-a-2"

	res, _ := reg.Join(5, first)
	res.Channel.TryStartTransmission("a")

	res, err := reg.Join(7, second)
	if err != nil {
		t.Fatalf("Join: %s", err)
	}
	if !res.Replaced {
		t.Errorf("wanted the join to report a replacement")
	}
	if !firstPeer.evicted {
		t.Errorf("the old connection was not evicted")
	}
	if status, _ := reg.Snapshot(5); status.UserCount != 0 || status.TransmittingUser != nil {
		t.Errorf("old channel still has the user: %+v", status)
	}

	// The evicted connection's cleanup must not remove the new one.
	reg.LeaveSession("a", first.Session)
	if ch, ok := reg.ChannelOf("a"); !ok || ch.ID() != 7 {
		t.Errorf("stale cleanup removed the newer session")
	}
	reg.LeaveSession("a", second.Session)
	if _, ok := reg.ChannelOf("a"); ok {
		t.Errorf("the newer session could not leave")
	}
}

func TestStats(t *testing.T) {
	reg := New(log, Config{})
	a, _ := newMember("a")
	b, _ := newMember("b")
	res, _ := reg.Join(1, a)
	reg.Join(1, b)
	res.Channel.TryStartTransmission("a")
	res.Channel.TryStartTransmission("b")
	reg.Leave("b")

	stats := reg.Stats()
	if stats.NumChannels != DefaultChannels || stats.NumMembers != 1 || stats.MaxMembers != 2 {
		t.Errorf("unexpected membership stats: %+v", stats)
	}
	if stats.BusyChannels != 1 || stats.TransmissionsGranted != 1 || stats.TransmissionsRejected != 1 {
		t.Errorf("unexpected transmission stats: %+v", stats)
	}
}
