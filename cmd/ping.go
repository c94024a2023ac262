package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/cqlwire/internal/config"
	"example.com/cqlwire/internal/conn"
	"example.com/cqlwire/internal/logger"
	"example.com/cqlwire/internal/queue"
	"example.com/cqlwire/internal/worker"
)

var (
	pingConfigFile string
	pingContact    string
	pingKeyspace   string

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Connect to a node, run the session handshake and report the result",
		RunE:  runPing,
	}
)

func init() {
	pingCmd.Flags().StringVarP(&pingConfigFile, "config", "c", "", "path to TOML config file")
	pingCmd.Flags().StringVar(&pingContact, "contact-point", "", "node address, overrides the config file")
	pingCmd.Flags().StringVar(&pingKeyspace, "keyspace", "", "keyspace to USE once the session is ready")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if pingConfigFile != "" {
		loaded, err := config.LoadConfig(pingConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if pingContact != "" {
		cfg.Driver.ContactPoint = pingContact
	}
	if cfg.Driver.TLS {
		return fmt.Errorf("tls requires an embedding application to supply a transport security layer")
	}

	var log *logger.Logger
	if cfg.Logging.Console {
		log = logger.NewConsole(cfg.Logging.Level)
	} else {
		log = logger.New(os.Stderr, cfg.Logging.Level)
	}

	group := worker.NewGroup(cfg.Queue.Workers, 0)
	defer group.Stop()

	flushInterval, err := cfg.Queue.FlushIntervalDuration()
	if err != nil {
		return err
	}
	mgr := queue.NewManager(group, log)
	if err := mgr.Init(queue.Options{
		Size:            cfg.Queue.Size,
		FlushInterval:   flushInterval,
		IdleFlushCutoff: cfg.Queue.IdleFlushCutoff,
		Log:             log,
	}); err != nil {
		return err
	}
	defer mgr.CloseHandles()

	timeout, err := cfg.Driver.ConnectTimeoutDuration()
	if err != nil {
		return err
	}
	writeTimeout, err := cfg.Driver.WriteTimeoutDuration()
	if err != nil {
		return err
	}

	ready := make(chan error, 1)
	ksChanged := make(chan string, 1)
	c, err := conn.Connect(cfg.Driver.ContactPoint, timeout, group.Next(), conn.Options{
		ProtocolVersion: cfg.Driver.ProtocolVersion,
		Compression:     string(cfg.Driver.Compression),
		WriteTimeout:    writeTimeout,
		Log:             log,
		Callbacks: conn.Callbacks{
			OnConnect: func(_ *conn.Connection, err error) {
				select {
				case ready <- err:
				default:
				}
			},
			OnKeyspaceChanged: func(_ *conn.Connection, ks string) {
				select {
				case ksChanged <- ks:
				default:
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("handshake with %s failed: %w", cfg.Driver.ContactPoint, err)
		}
	case <-time.After(timeout + time.Second):
		return fmt.Errorf("handshake with %s timed out", cfg.Driver.ContactPoint)
	}
	fmt.Printf("node %s is ready (protocol %s, compression %s)\n",
		c.Host(), cfg.Driver.ProtocolVersion, cfg.Driver.Compression)

	if pingKeyspace != "" {
		c.SetKeyspace(pingKeyspace)
		select {
		case ks := <-ksChanged:
			fmt.Printf("keyspace set to %s\n", ks)
		case <-time.After(timeout):
			return fmt.Errorf("USE %s was not confirmed in time", pingKeyspace)
		}
	}
	return nil
}
