package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/keys"
	"github.com/go-i2p/go-onion/lib/node"
	"github.com/go-i2p/go-onion/lib/onion"
	"github.com/go-i2p/go-onion/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "go-onion",
		Short:         "Three-hop onion relay",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig()
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-onion/config.yaml)")
	root.PersistentFlags().String("working-dir", "", "directory holding the identity key")
	bindFlag("working_dir", root.PersistentFlags(), "working-dir")

	root.AddCommand(newRelayCmd(), newKeygenCmd(), newPathCmd())
	return root
}

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay()
		},
	}
	cmd.Flags().String("listen", "", "UDP listen address")
	cmd.Flags().String("metrics", "", "metrics listen address")
	bindFlag("listen_address", cmd.Flags(), "listen")
	bindFlag("metrics.listen_address", cmd.Flags(), "metrics")
	return cmd
}

// bindFlag ties a viper key to a flag and logs any failure.
func bindFlag(key string, flags *pflag.FlagSet, name string) error {
	if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":   "bindFlag",
			"key":  key,
			"flag": name,
		}).Error("failed to bind flag")
		return err
	}
	return nil
}

// markRequired marks flags on cmd as required, logging unknown names.
func markRequired(cmd *cobra.Command, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":      "markRequired",
				"command": cmd.Name(),
				"flag":    name,
			}).Error("failed to mark flag required")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runRelay() error {
	cfg := config.CurrentConfig()
	log.WithFields(logger.Fields{
		"at":          "runRelay",
		"listen":      cfg.ListenAddress,
		"working_dir": cfg.WorkingDir,
	}).Debug("parsed node configuration")

	n, err := node.FromConfig(cfg)
	if err != nil {
		return oops.Wrapf(err, "creating node")
	}
	if err := n.Start(); err != nil {
		return oops.Wrapf(err, "starting node")
	}

	go signals.Handle()
	defer signals.StopHandle()
	signals.RegisterReloadHandler(func() {
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).Warn("config reload failed")
			return
		}
		log.Info("config reloaded; listen and key settings apply on restart")
	})
	signals.RegisterInterruptHandler(func() {
		n.Stop()
	})

	n.Wait()
	return n.Close()
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create the node identity if needed and print its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			kp, err := keys.LoadOrCreateIdentity(cfg.WorkingDir, node.IdentityName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.PublicHex())
			return nil
		},
	}
}

func newPathCmd() *cobra.Command {
	var (
		dest      string
		payload   string
		replyKind uint8
		wait      time.Duration
		ephemeral bool
	)
	cmd := &cobra.Command{
		Use:   "path RELAY1 RELAY2 RELAY3",
		Short: "Send one payload through three relays",
		Long: "Each relay is given as pubkeyhex@host:port. The payload is hex and\n" +
			"its first byte is the application packet kind.",
		Args: cobra.ExactArgs(onion.HopCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			relays := make([]onion.Node, 0, len(args))
			for _, arg := range args {
				r, err := parseRelay(arg)
				if err != nil {
					return err
				}
				relays = append(relays, r)
			}
			destAddr, err := ipport.Parse(dest)
			if err != nil {
				return oops.Wrapf(err, "destination")
			}
			data, err := hex.DecodeString(payload)
			if err != nil {
				return oops.Wrapf(err, "payload")
			}
			return sendPath(cmd, relays, destAddr, data, replyKind, wait, ephemeral)
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination host:port")
	cmd.Flags().StringVar(&payload, "payload", "", "hex payload")
	cmd.Flags().Uint8Var(&replyKind, "reply-kind", 0, "wait for a response starting with this byte")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for a response")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "show the identity key to the entry relay only")
	markRequired(cmd, "dest", "payload")
	return cmd
}

// parseRelay reads pubkeyhex@host:port.
func parseRelay(s string) (onion.Node, error) {
	pub, addr, ok := strings.Cut(s, "@")
	if !ok {
		return onion.Node{}, oops.Errorf("relay %q is not pubkey@host:port", s)
	}
	key, err := keys.ParsePublicKey(pub)
	if err != nil {
		return onion.Node{}, oops.Wrapf(err, "relay %q", s)
	}
	ipp, err := ipport.Parse(addr)
	if err != nil {
		return onion.Node{}, oops.Wrapf(err, "relay %q", s)
	}
	return onion.Node{PublicKey: key, Address: ipp}, nil
}

func sendPath(cmd *cobra.Command, relays []onion.Node, dest ipport.IPPort, payload []byte, replyKind uint8, wait time.Duration, ephemeral bool) error {
	cfg := config.CurrentConfig()
	cfg.ListenAddress = "0.0.0.0:0"
	cfg.MetricsAddress = ""

	n, err := node.FromConfig(cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	replies := make(chan []byte, 1)
	if replyKind != 0 {
		err := n.Handle(replyKind, func(_ ipport.IPPort, packet []byte) {
			select {
			case replies <- append([]byte(nil), packet...):
			default:
			}
		})
		if err != nil {
			return err
		}
	}
	if err := n.Start(); err != nil {
		return err
	}

	build := n.CreatePath
	if ephemeral {
		build = n.CreateEphemeralPath
	}
	path, err := build(relays)
	if err != nil {
		return err
	}
	if err := n.SendOnion(path, dest, payload); err != nil {
		return err
	}
	if replyKind == 0 {
		return nil
	}

	select {
	case reply := <-replies:
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(reply))
		return nil
	case <-time.After(wait):
		return oops.Errorf("no response within %s", wait)
	}
}
