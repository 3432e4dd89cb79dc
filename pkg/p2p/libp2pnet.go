// Package p2p gossips committed exchange events between nodes over libp2p
// pubsub. Nodes do not replicate state from gossip; peers use it to feed
// their own subscribers.
package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
)

const (
	topicEvents = "hyperbarter-events"
	outboxSize  = 256
)

// Handlers receive gossip from other nodes
type Handlers struct {
	OnEvent func(ctx context.Context, from peer.ID, ev exchange.Event)
}

type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tEvents   *pubsub.Topic
	subEvents *pubsub.Subscription

	outbox chan exchange.Event

	muH      sync.RWMutex
	handlers Handlers
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// NewLibp2pNet starts a host, joins the event topic and runs the inbound and
// outbound loops until ctx ends.
func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	net := &Libp2pNet{
		h:      h,
		ps:     ps,
		log:    log,
		outbox: make(chan exchange.Event, outboxSize),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := net.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	go net.handleEvents(ctx)
	go net.publishLoop(ctx)

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics() error {
	var err error
	if n.tEvents, err = n.ps.Join(topicEvents); err != nil {
		return err
	}
	n.subEvents, err = n.tEvents.Subscribe()
	return err
}

func (n *Libp2pNet) SetHandlers(h Handlers) { n.muH.Lock(); n.handlers = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns the dialable multiaddrs of this node, /p2p/<id> included
func (n *Libp2pNet) Addrs() []string {
	info := peer.AddrInfo{ID: n.h.ID(), Addrs: n.h.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(maddrs))
	for i, m := range maddrs {
		out[i] = m.String()
	}
	return out
}

// Connect dials a peer by its /p2p multiaddr
func (n *Libp2pNet) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, n.h, addr)
}

// Gossip queues ev for publication. It never blocks, so it can be registered
// as an exchange listener; events are dropped when the outbox is full.
func (n *Libp2pNet) Gossip(ev exchange.Event) {
	select {
	case n.outbox <- ev:
	default:
		n.log.Warnw("gossip_dropped", "seq", ev.Seq, "type", ev.Type)
	}
}

// PublishEvent publishes ev on the event topic right away
func (n *Libp2pNet) PublishEvent(ctx context.Context, ev exchange.Event) error {
	data, err := encodeEvent(n.h.ID().String(), ev)
	if err != nil {
		return err
	}
	return n.tEvents.Publish(ctx, data)
}

func (n *Libp2pNet) Close() error {
	n.subEvents.Cancel()
	if err := n.tEvents.Close(); err != nil {
		n.log.Debugw("topic_close_failed", "err", err)
	}
	return n.h.Close()
}

// outbound

func (n *Libp2pNet) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.outbox:
			if err := n.PublishEvent(ctx, ev); err != nil {
				n.log.Warnw("gossip_publish_failed", "seq", ev.Seq, "err", err)
			}
		}
	}
}

// inbound

func (n *Libp2pNet) handleEvents(ctx context.Context) {
	for {
		msg, err := n.subEvents.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		w, ev, err := decodeEvent(msg.Data)
		if err != nil {
			n.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if w.Origin != msg.GetFrom().String() {
			n.log.Debugw("gossip_origin_mismatch", "origin", w.Origin, "from", msg.GetFrom().String())
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnEvent != nil {
			h.OnEvent(ctx, msg.GetFrom(), ev)
		}
	}
}
