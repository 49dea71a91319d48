package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-tunnelmsg/lib/config"
	"github.com/go-i2p/go-tunnelmsg/lib/fragment"
	"github.com/go-i2p/go-tunnelmsg/lib/tunnel"
)

// simulation parameters not kept in the config file
type simulation struct {
	messages int
	size     int
	routers  int
	timeout  time.Duration
}

type simulationReport struct {
	Hops        int
	PayloadSize int
	Sent        int
	Delivered   int
	Corrupted   int
	Blocks      int
	Stats       fragment.Stats
	Elapsed     time.Duration
}

func newSimulateCommand() *cobra.Command {
	var sim simulation
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send messages through an in-process tunnel and report what arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := sim.run(cmd.Context(), config.CurrentConfig())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hops=%d endpoint_payload=%d blocks=%d\n", report.Hops, report.PayloadSize, report.Blocks)
			fmt.Fprintf(out, "sent=%d delivered=%d corrupted=%d elapsed=%s\n", report.Sent, report.Delivered, report.Corrupted, report.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "reassembler: %s\n", report.Stats)
			if report.Delivered != report.Sent || report.Corrupted > 0 {
				return oops.Errorf("%d of %d messages delivered intact", report.Delivered-report.Corrupted, report.Sent)
			}
			return nil
		},
	}
	cmd.Flags().Int("hops", config.Defaults().Tunnel.Hops, "hops after the gateway")
	_ = viper.BindPFlag("tunnel.hops", cmd.Flags().Lookup("hops"))
	cmd.Flags().IntVar(&sim.messages, "messages", 20, "number of messages to send")
	cmd.Flags().IntVar(&sim.size, "size", 2048, "largest message size in bytes")
	cmd.Flags().IntVar(&sim.routers, "routers", 16, "size of the simulated router pool")
	cmd.Flags().DurationVar(&sim.timeout, "timeout", 10*time.Second, "give up waiting for deliveries after this long")
	return cmd
}

func (s simulation) run(ctx context.Context, cfg config.ConfigDefaults) (*simulationReport, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if s.messages < 1 || s.size < 1 {
		return nil, oops.Errorf("messages and size must be positive")
	}
	if s.routers <= cfg.Tunnel.Hops {
		return nil, oops.Errorf("router pool of %d cannot supply %d hops", s.routers, cfg.Tunnel.Hops)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	gatewayPeer := common.HashData([]byte("simulated-gateway"))
	pool := make([]common.Hash, s.routers)
	for i := range pool {
		pool[i] = common.HashData([]byte(fmt.Sprintf("simulated-router-%d", i)))
	}
	selector := tunnel.NewRandomPeerSelector(pool, tunnel.ExcludeFilter(gatewayPeer))
	peers, hops, err := tunnel.BuildTunnel(selector, gatewayPeer, cfg.Tunnel.Hops, time.Now().Add(10*time.Minute))
	if err != nil {
		return nil, err
	}
	chain, err := tunnel.NewChain(gatewayPeer, peers, hops, nil)
	if err != nil {
		return nil, err
	}
	pre, err := tunnel.NewPreprocessor(chain.Gateway.PayloadSize(), tunnel.WithMaxFlushDelay(cfg.Tunnel.MaxFlushDelay))
	if err != nil {
		return nil, err
	}

	arrived := make(chan []byte, s.messages)
	handler, err := tunnel.NewFragmentHandler(func(_ tunnel.DeliveryConfig, msg []byte) {
		arrived <- msg
	}, cfg.Fragment.MaxDefragTime, nil)
	if err != nil {
		return nil, err
	}

	// sent digests, by content
	want := make(map[[32]byte]int, s.messages)
	messages := make([][]byte, s.messages)
	for i := range messages {
		msg := make([]byte, 1+rand.Intn(s.size))
		if _, err := rand.Read(msg); err != nil {
			return nil, oops.Wrapf(err, "generate message")
		}
		messages[i] = msg
		want[sha256.Sum256(msg)]++
	}

	report := &simulationReport{Hops: cfg.Tunnel.Hops, PayloadSize: chain.Gateway.PayloadSize(), Sent: s.messages}
	start := time.Now()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		pre.Run(gctx, cfg.Tunnel.SweepInterval, func(block []byte) error {
			report.Blocks++
			plain, err := chain.Send(block)
			if err != nil {
				return err
			}
			return handler.HandleBlock(plain)
		})
		return nil
	})
	g.Go(func() error {
		handler.Run(gctx, cfg.Tunnel.SweepInterval)
		return nil
	})
	g.Go(func() error {
		for _, msg := range messages {
			if _, err := pre.Enqueue(msg, tunnel.LocalDelivery()); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer stop()
		deadline := time.NewTimer(s.timeout)
		defer deadline.Stop()
		for report.Delivered < s.messages {
			select {
			case msg := <-arrived:
				report.Delivered++
				sum := sha256.Sum256(msg)
				if want[sum] == 0 {
					report.Corrupted++
					continue
				}
				want[sum]--
			case <-deadline.C:
				log.WithFields(logger.Fields{
					"at":        "simulate",
					"reason":    "timeout",
					"delivered": report.Delivered,
					"sent":      s.messages,
				}).Warn("Stopped waiting for deliveries")
				return nil
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	report.Stats = handler.Stats()
	return report, nil
}
