package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-tunnelmsg/lib/common/uniqueid"
	"github.com/go-i2p/go-tunnelmsg/lib/config"
	"github.com/go-i2p/go-tunnelmsg/lib/packet"
	"github.com/go-i2p/go-tunnelmsg/lib/relay"
	"github.com/go-i2p/go-tunnelmsg/lib/sendqueue"
	"github.com/go-i2p/go-tunnelmsg/lib/util"
	"github.com/go-i2p/go-tunnelmsg/lib/util/signals"
)

func newRelayCommand() *cobra.Command {
	var (
		name   string
		demo   int
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay node on the loopback transport until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var sigs signals.Dispatcher
			sigs.OnInterrupt(signals.Handler(cancel))
			sigs.OnReload(func() {
				cfg, err := config.Reload()
				if err != nil {
					log.WithError(err).Error("Keeping previous configuration")
					return
				}
				log.WithFields(logger.Fields{
					"at":               "relay",
					"cleanup_interval": cfg.Relay.CleanupInterval,
					"source_rate":      cfg.Relay.SourceRate,
				}).Info("Configuration reloaded; limiter settings apply on restart")
			})
			go sigs.Run(ctx)

			return runRelay(ctx, config.CurrentConfig(), name, demo, window)
		},
	}
	cmd.Flags().StringVar(&name, "name", "relay", "name the node identity hash is derived from")
	cmd.Flags().IntVar(&demo, "demo", 0, "send this many relay requests through the node from a loopback client")
	cmd.Flags().DurationVar(&window, "demo-window", 2*time.Second, "latest send time requested by the demo client")
	return cmd
}

func runRelay(ctx context.Context, cfg config.ConfigDefaults, name string, demo int, window time.Duration) error {
	defer util.CloseAll()

	if err := os.MkdirAll(filepath.Dir(cfg.Relay.DBPath), 0o700); err != nil {
		return oops.Wrapf(err, "create relay store directory")
	}
	store, err := relay.OpenSQLiteStore(cfg.Relay.DBPath)
	if err != nil {
		return err
	}
	util.RegisterCloser(store)

	network := sendqueue.NewLoopbackNetwork()
	self := common.HashData([]byte(name))
	queue, err := sendqueue.New(network.Transport(self),
		sendqueue.WithBandwidth(cfg.SendQueue.MaxBandwidth, cfg.SendQueue.Burst),
		sendqueue.WithResponseTimeout(cfg.SendQueue.ResponseTimeout),
	)
	if err != nil {
		return err
	}
	node, err := relay.NewNode(self, queue, store,
		relay.WithSourceLimiter(relay.NewSourceLimiter(cfg.Relay.SourceRate, cfg.Relay.SourceBurst, cfg.Relay.BanDuration)),
	)
	if err != nil {
		return err
	}
	network.Attach(self, node.Receive)

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		queue.Run(gctx)
		return nil
	})
	restored, err := node.Restore(gctx)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	log.WithFields(logger.Fields{
		"at":       "relay",
		"node":     self.String(),
		"store":    cfg.Relay.DBPath,
		"restored": restored,
	}).Info("Relay node running")

	g.Go(func() error {
		node.Run(gctx, cfg.Relay.CleanupInterval)
		return nil
	})
	if demo > 0 {
		g.Go(func() error {
			return runDemoClient(gctx, network, cfg, self, demo, window)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := node.Stats()
	log.WithFields(logger.Fields{
		"at":               "relay",
		"total_requests":   stats.TotalRequests,
		"total_rejections": stats.TotalRejections,
	}).Info("Relay node stopped")
	return err
}

// runDemoClient sends count relay requests to the node, each carrying a
// peer list request for a loopback sink, and waits until the sink has
// received every one. A refused request or a missing packet is an error.
func runDemoClient(ctx context.Context, network *sendqueue.LoopbackNetwork, cfg config.ConfigDefaults, relayPeer common.Hash, count int, window time.Duration) error {
	clientHash := common.HashData([]byte("demo-client"))
	var sink packet.Destination
	copy(sink[:], "demo-sink")

	client, err := sendqueue.New(network.Transport(clientHash), sendqueue.WithResponseTimeout(cfg.SendQueue.ResponseTimeout))
	if err != nil {
		return err
	}
	network.Attach(clientHash, func(from common.Hash, b []byte) {
		_, _, _ = client.HandleIncoming(from, b)
	})
	arrived := make(chan uniqueid.UniqueId, count)
	network.Attach(sink.Hash(), func(from common.Hash, b []byte) {
		p, err := packet.DecodeCommunication(b)
		if err != nil {
			log.WithError(err).Warn("Sink received an unreadable packet")
			return
		}
		log.WithFields(logger.Fields{
			"at":        "demo-sink",
			"packet_id": p.PacketID().String(),
		}).Info("Relayed packet arrived")
		select {
		case arrived <- p.PacketID():
		default:
		}
	})
	defer network.Detach(clientHash)
	defer network.Detach(sink.Hash())
	go client.Run(ctx)

	for i := 0; i < count; i++ {
		id, err := uniqueid.New()
		if err != nil {
			return err
		}
		inner, err := (&packet.PeerListRequest{ID: id}).Marshal()
		if err != nil {
			return err
		}
		rp, err := packet.NewRelayPacket(inner, sink, window/4, window)
		if err != nil {
			return err
		}
		req, err := packet.NewRelayRequest(rp)
		if err != nil {
			return err
		}
		resp, err := client.SendRequest(ctx, req, relayPeer, 0)
		if err != nil {
			return oops.Wrapf(err, "relay request %d", i)
		}
		log.WithFields(logger.Fields{
			"at":         "demo-client",
			"request":    i,
			"request_id": id.String(),
			"status":     resp.Status.String(),
		}).Info("Relay answered")
		if resp.Status != packet.StatusOK {
			return oops.Errorf("relay refused request %d: %s", i, resp.Status)
		}
	}

	deadline := time.NewTimer(window + time.Second)
	defer deadline.Stop()
	for received := 0; received < count; received++ {
		select {
		case <-arrived:
		case <-deadline.C:
			return oops.Errorf("%d of %d relayed packets arrived", received, count)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.WithFields(logger.Fields{
		"at":      "demo-client",
		"packets": count,
	}).Info("Every relayed packet arrived")
	return nil
}
