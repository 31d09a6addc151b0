package loopback

import (
	"context"
	"errors"
	"fmt"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/policy"
)

var (
	// ErrNotForked is returned by Accept for endpoints not created by Connect.
	ErrNotForked = errors.New("endpoint was not created by a connection request")

	// ErrAlreadyAccepted is returned by Accept for an endpoint accepted before.
	ErrAlreadyAccepted = errors.New("endpoint already accepted")
)

// endpointTag is the credential stored for an endpoint together with the
// owner context needed to audit and relax rejections at that endpoint.
type endpointTag struct {
	cred       entities.SocketCredential
	owner      entities.ProcessIdentity
	profile    entities.Tag
	permissive bool
}

// Packet is one outbound unit of local data. Source is a copy of the
// sending endpoint's credential taken at send time.
type Packet struct {
	Payload []byte
	Source  entities.SocketCredential
	Sender  Handle
	Port    uint16
}

// Tagger owns the endpoint side table.
type Tagger struct {
	arena  arena
	config taggerConfig
}

// NewTagger creates an empty side table.
func NewTagger(opts ...Option) *Tagger {
	cfg := defaultTaggerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tagger{config: cfg}
}

// Open allocates an untagged endpoint.
func (t *Tagger) Open() Handle {
	h, _ := t.arena.alloc()
	return h
}

// Close frees the endpoint. Packets already sent keep their credential.
func (t *Tagger) Close(h Handle) error {
	return t.arena.release(h)
}

// Len returns the number of open endpoints.
func (t *Tagger) Len() int {
	return t.arena.len()
}

// CredentialFor derives the credential a profile stamps on its endpoints.
// Unrestricted wins over same-process, which wins over group membership;
// a profile granting none of them leaves endpoints untagged.
func CredentialFor(p *entities.Profile, id entities.ProcessIdentity) entities.SocketCredential {
	flags := p.Flags()
	switch {
	case flags.UnrestrictedLocal:
		return entities.UnrestrictedCredential()
	case flags.SameProcessLoopback:
		return entities.SameProcessCredential(id)
	case !flags.TransmitGroups.Empty() || !flags.ReceiveGroups.Empty():
		return entities.GroupCredential(flags.TransmitGroups, flags.ReceiveGroups)
	default:
		return entities.SocketCredential{}
	}
}

// Tag stamps h with the credential of b's active profile on first local use.
// An existing tag is kept unless force is set. The credential now in effect
// is returned.
func (t *Tagger) Tag(b *policy.Binding, h Handle, force bool) (entities.SocketCredential, error) {
	s, err := t.arena.get(h)
	if err != nil {
		return entities.SocketCredential{}, err
	}

	p := b.Profile()
	cred := CredentialFor(p, b.Identity())
	if !cred.Tagged() {
		return t.credential(s), nil
	}

	tag := &endpointTag{
		cred:       cred,
		owner:      b.Identity(),
		profile:    p.Tag(),
		permissive: p.Flags().Permissive,
	}
	if force {
		s.tag.Store(tag)
		return cred, nil
	}
	if s.tag.CompareAndSwap(nil, tag) {
		return cred, nil
	}
	return t.credential(s), nil
}

// Credential returns the credential of h; the zero credential means untagged.
func (t *Tagger) Credential(h Handle) (entities.SocketCredential, error) {
	s, err := t.arena.get(h)
	if err != nil {
		return entities.SocketCredential{}, err
	}
	return t.credential(s), nil
}

func (t *Tagger) credential(s *slot) entities.SocketCredential {
	if tag := s.tag.Load(); tag != nil {
		return tag.cred
	}
	return entities.SocketCredential{}
}

// Send builds a packet from h, sent by the process bound to b. Sending is a
// first local use, so h is tagged with b's credential unless already tagged.
// The packet carries a copy of the credential in effect.
func (t *Tagger) Send(b *policy.Binding, h Handle, port uint16, payload []byte) (Packet, error) {
	cred, err := t.Tag(b, h, false)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Payload: payload, Source: cred, Sender: h, Port: port}, nil
}

// Connect validates a connection request from pkt against the listening
// endpoint and, when accepted, forks a new endpoint for the connection.
// The listener's credential is propagated onto the fork before it is
// returned, so Accept and later deliveries see the inherited tag.
func (t *Tagger) Connect(ctx context.Context, pkt Packet, listener Handle) (Handle, error) {
	s, err := t.arena.get(listener)
	if err != nil {
		return Handle{}, err
	}
	dst := s.tag.Load()
	if err := t.validate(ctx, pkt, dst); err != nil {
		return Handle{}, err
	}

	child, cs := t.arena.alloc()
	if dst != nil {
		inherited := *dst
		cs.tag.Store(&inherited)
	}
	cs.forked.Store(true)
	return child, nil
}

// Deliver validates pkt arriving at an established endpoint.
func (t *Tagger) Deliver(ctx context.Context, pkt Packet, dst Handle) error {
	s, err := t.arena.get(dst)
	if err != nil {
		return err
	}
	return t.validate(ctx, pkt, s.tag.Load())
}

// Accept hands a forked endpoint to the listening process exactly once and
// returns its inherited credential.
func (t *Tagger) Accept(child Handle) (entities.SocketCredential, error) {
	s, err := t.arena.get(child)
	if err != nil {
		return entities.SocketCredential{}, err
	}
	if !s.forked.Load() {
		return entities.SocketCredential{}, ErrNotForked
	}
	if !s.accepted.CompareAndSwap(false, true) {
		return entities.SocketCredential{}, ErrAlreadyAccepted
	}
	return t.credential(s), nil
}

// Allowed reports whether a packet with credential src may arrive at an
// endpoint with credential dst. It is the pure part of arrival validation.
func Allowed(src, dst entities.SocketCredential) bool {
	if !src.Tagged() || !dst.Tagged() {
		return true
	}
	if dst.Kind == entities.CreatorUnrestricted {
		return true
	}
	if src.Kind != dst.Kind {
		return false
	}
	switch src.Kind {
	case entities.CreatorSameProcess:
		return src.Process == dst.Process
	case entities.CreatorGroupMember:
		return src.TransmitGroups.Intersects(dst.ReceiveGroups)
	default:
		return false
	}
}

func (t *Tagger) validate(ctx context.Context, pkt Packet, dst *endpointTag) error {
	var dstCred entities.SocketCredential
	if dst != nil {
		dstCred = dst.cred
	}
	if Allowed(pkt.Source, dstCred) {
		return nil
	}

	permissive := t.config.globalPermissive || dst.permissive
	rec := entities.AuditRecord{
		Time:       t.config.now(),
		Kind:       entities.AuditCredentialRejected,
		Process:    dst.owner,
		Tag:        dst.profile,
		Port:       pkt.Port,
		Reason:     fmt.Sprintf("source %s, destination %s", pkt.Source, dstCred),
		Permissive: permissive,
	}
	if t.config.auditor != nil {
		t.config.auditor.Audit(ctx, rec)
	} else {
		t.config.logger.Warn("loopback credential rejected", "port", pkt.Port, "pid", dst.owner.PID, "reason", rec.Reason, "permissive", permissive)
	}
	if permissive {
		return nil
	}
	return &domainerrors.CredentialRejectedError{Source: pkt.Source, Destination: dstCred, Port: pkt.Port}
}
